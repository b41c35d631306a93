package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const baseURL = "http://localhost:8080/api/v1"

var client = &http.Client{Timeout: 5 * time.Minute}

func main() {
	// Проверяем health endpoint
	fmt.Println("Проверяем health endpoint...")
	status, body, err := call(http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		fmt.Printf("Ошибка при обращении к health endpoint: %v\n", err)
		return
	}
	fmt.Printf("Health check ответ (статус %d):\n%s\n\n", status, body)

	// Если указан каталог кадров, открываем по нему сессию
	if len(os.Args) > 1 {
		frameDir := os.Args[1]
		fmt.Printf("Открываем сессию для %s...\n", frameDir)

		if err := testSession(frameDir); err != nil {
			fmt.Printf("Ошибка при тестировании сессии: %v\n", err)
		}
	} else {
		fmt.Println("Для тестирования сессии запустите: go run ./cmd/smoke <каталог_кадров>")
	}
}

func testSession(frameDir string) error {
	status, body, err := call(http.MethodPost, baseURL+"/sessions", map[string]string{"frame_dir": frameDir})
	if err != nil {
		return err
	}
	fmt.Printf("Ответ открытия сессии (статус %d):\n%s\n", status, body)
	if status != http.StatusOK {
		return fmt.Errorf("сессия не открыта")
	}

	var session struct {
		ID           string `json:"id"`
		Observations []struct {
			Name string `json:"name"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return fmt.Errorf("ошибка разбора ответа: %w", err)
	}

	status, body, err = call(http.MethodGet, baseURL+"/sessions/"+session.ID+"/stats", nil)
	if err != nil {
		return err
	}
	fmt.Printf("Статистика (статус %d):\n%s\n", status, body)

	if len(session.Observations) == 0 {
		return nil
	}
	name := session.Observations[0].Name
	fmt.Printf("Запускаем распространение %q...\n", name)
	status, body, err = call(http.MethodPost, baseURL+"/sessions/"+session.ID+"/observations/"+name+"/propagate", map[string]string{})
	if err != nil {
		return err
	}
	fmt.Printf("Ответ распространения (статус %d):\n%s\n", status, body)
	return nil
}

func call(method, url string, payload interface{}) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}
	return resp.StatusCode, body, nil
}
