package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/studyloop/tutor-engine/internal/tutor"
)

// Feed fans interactive content out to websocket subscribers per learner.
// Slow subscribers drop updates rather than blocking turns.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[chan []*tutor.InteractiveContent]struct{}
}

// NewFeed creates an empty content feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan []*tutor.InteractiveContent]struct{})}
}

// Publish delivers content to every subscriber of the learner.
func (f *Feed) Publish(userID string, content []*tutor.InteractiveContent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[userID] {
		select {
		case ch <- content:
		default:
		}
	}
}

// Subscribe registers a subscriber channel for a learner. The returned cancel
// removes the subscription and closes the channel.
func (f *Feed) Subscribe(userID string) (<-chan []*tutor.InteractiveContent, func()) {
	ch := make(chan []*tutor.InteractiveContent, 8)

	f.mu.Lock()
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[chan []*tutor.InteractiveContent]struct{})
	}
	f.subs[userID][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if set, ok := f.subs[userID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subs, userID)
			}
		}
	}
	return ch, cancel
}

// handleContentFeed upgrades to a websocket and streams each turn's
// interactive content as JSON arrays until the client disconnects.
func (s *Server) handleContentFeed(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ch, cancel := s.feed.Subscribe(userID)
	defer cancel()

	// The stream is write-only: CloseRead keeps consuming control frames and
	// cancels the context as soon as the client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case content, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, content); err != nil {
				return
			}
		}
	}
}
