// Command mockcaptcha serves the createTask/getTaskResult protocol of the
// captcha solving service, for local runs against captcha.baseURL.
package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

type task struct {
	created time.Time
	polls   int
}

type mock struct {
	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]*task
	readyIn time.Duration
	failPct int
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	readyIn := flag.Duration("ready-in", 3*time.Second, "time until a task is ready")
	failPct := flag.Int("fail-pct", 0, "percent of tasks that end ERROR_CAPTCHA_UNSOLVABLE")
	flag.Parse()

	m := &mock{nextID: 1000, tasks: make(map[int64]*task), readyIn: *readyIn, failPct: *failPct}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	mux.HandleFunc("/createTask", m.createTask)
	mux.HandleFunc("/getTaskResult", m.getTaskResult)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock captcha listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

func (m *mock) createTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ClientKey string `json:"clientKey"`
		Task      struct {
			Type       string `json:"type"`
			WebsiteURL string `json:"websiteURL"`
			WebsiteKey string `json:"websiteKey"`
		} `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_BAD_PARAMETERS", "errorDescription": err.Error()})
		return
	}
	if body.ClientKey == "" {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_KEY_DOES_NOT_EXIST"})
		return
	}
	if body.Task.WebsiteURL == "" || body.Task.WebsiteKey == "" {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_BAD_PARAMETERS"})
		return
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.tasks[id] = &task{created: time.Now()}
	m.mu.Unlock()

	writeJSON(w, map[string]any{"errorId": 0, "taskId": id})
}

func (m *mock) getTaskResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ClientKey string `json:"clientKey"`
		TaskID    int64  `json:"taskId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_BAD_PARAMETERS", "errorDescription": err.Error()})
		return
	}

	m.mu.Lock()
	t, ok := m.tasks[body.TaskID]
	if ok {
		t.polls++
	}
	m.mu.Unlock()

	if !ok {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_NO_SUCH_CAPCHA_ID"})
		return
	}
	if time.Since(t.created) < m.readyIn {
		writeJSON(w, map[string]any{"errorId": 0, "status": "processing"})
		return
	}

	m.mu.Lock()
	delete(m.tasks, body.TaskID)
	m.mu.Unlock()

	if m.failPct > 0 && rand.Intn(100) < m.failPct {
		writeJSON(w, map[string]any{"errorId": 1, "errorCode": "ERROR_CAPTCHA_UNSOLVABLE"})
		return
	}
	writeJSON(w, map[string]any{
		"errorId": 0,
		"status":  "ready",
		"solution": map[string]any{
			"gRecaptchaResponse": "03AFcWeA" + randString(480),
			"score":              0.9,
		},
		"createTime": t.created.Unix(),
		"endTime":    time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
