package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/event-checkin/internal/models"
)

// FCMDispatcher posts match notifications to an FCM HTTPv1 endpoint for
// users without a live websocket.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) NotifyMatch(userID string, ev models.MatchEvent) error {
	body := map[string]any{"message": map[string]any{
		"token": userID,
		"data": map[string]string{
			"type":       "match",
			"match_id":   ev.MatchID,
			"event_id":   ev.EventID,
			"other_user": ev.OtherUserID,
		},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PushDispatcher tries the live websocket first and falls back to FCM.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback Notifier
}

func NewPushDispatcher(ws *WSRegistry, fallback Notifier) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback}
}

func (p *PushDispatcher) NotifyMatch(userID string, ev models.MatchEvent) error {
	if p.WS != nil {
		if err := p.WS.NotifyMatch(userID, ev); err == nil {
			return nil
		}
	}
	if p.Fallback != nil {
		return p.Fallback.NotifyMatch(userID, ev)
	}
	return nil
}
