// Terminal chat client. Logs in, opens the websocket and lets the
// user switch channels and send messages from stdin.
//
//	go run ./cmd/client -server http://127.0.0.1:8080 -user alice -channel 10
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ntpoppe/sharply-sub000/client"
	"github.com/ntpoppe/sharply-sub000/service/chat"
	"github.com/ntpoppe/sharply-sub000/tools/safe"
)

var (
	serverFlag  = flag.String("server", "http://127.0.0.1:8080", "gateway base URL")
	userFlag    = flag.String("user", "", "login name")
	channelFlag = flag.String("channel", "", "channel to join on start")
)

func main() {
	flag.Parse()
	if *userFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user <name> [-channel <id>]")
		os.Exit(1)
	}

	token, userID, err := login(*serverFlag, *userFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged in as %s (%s)\n", *userFlag, userID)

	ws, err := dial(*serverFlag, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer ws.Close()

	transport := &wsTransport{ws: ws}
	history := &httpHistory{base: *serverFlag, token: token}
	session := client.NewSession(transport, history)

	printer := &printer{session: session}
	session.OnUpdate = printer.refresh

	done := make(chan struct{})
	safe.Go(func() {
		defer close(done)
		readLoop(ws, session, printer)
	})

	ctx := context.Background()
	if *channelFlag != "" {
		if err := session.SelectChannel(ctx, *channelFlag); err != nil {
			fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
		}
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			<-done
			return
		case strings.HasPrefix(line, "/join "):
			ch := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			if err := session.SelectChannel(ctx, ch); err != nil {
				fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
			}
		default:
			ch := session.Current()
			if ch == "" {
				fmt.Println("no channel selected, use /join <id>")
				continue
			}
			err := transport.SendFrame(chat.Frame{
				Type:    chat.FrameSend,
				Payload: chat.SendPayload{ChannelID: ch, Content: line},
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
	<-done
}

func readLoop(ws *websocket.Conn, session *client.Session, p *printer) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			fmt.Println("disconnected:", err)
			return
		}
		f, err := chat.ParseFrame(data)
		if err != nil {
			continue
		}
		switch f.Type {
		case chat.FrameMessage:
			m, err := chat.FramePayload[chat.MessagePayload](f)
			if err != nil {
				continue
			}
			session.OnLiveMessage(*m)
		case chat.FrameRoster:
			r, err := chat.FramePayload[chat.RosterPayload](f)
			if err != nil {
				continue
			}
			names := make([]string, 0, len(r.Users))
			for _, u := range r.Users {
				names = append(names, u.Username)
			}
			fmt.Printf("* online: %s\n", strings.Join(names, ", "))
		case chat.FrameError:
			e, err := chat.FramePayload[chat.ErrorPayload](f)
			if err != nil {
				continue
			}
			fmt.Printf("! server error %d: %s\n", e.Code, e.Msg)
		}
	}
}

// printer tracks how much of the session's message list has been
// shown, so live appends print incrementally and a channel switch
// reprints from the top.
type printer struct {
	session *client.Session
	mu      sync.Mutex
	shown   int
}

func (p *printer) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.session.Messages()
	if len(msgs) < p.shown {
		p.shown = 0
		fmt.Printf("--- %s ---\n", p.session.Current())
	}
	for _, m := range msgs[p.shown:] {
		ts := time.UnixMilli(m.Timestamp).Local().Format("15:04:05")
		who := m.Username
		if who == "" {
			who = m.SenderID
		}
		fmt.Printf("[%s] %s: %s\n", ts, who, m.Content)
	}
	p.shown = len(msgs)
}

type wsTransport struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (t *wsTransport) SendFrame(f chat.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.WriteJSON(f)
}

type httpHistory struct {
	base  string
	token string
}

func (h *httpHistory) History(ctx context.Context, channelID string) ([]chat.MessagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/channels/%s/history", h.base, url.PathEscape(channelID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: status %d", resp.StatusCode)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]chat.MessagePayload, 0, len(body.Messages))
	for _, m := range body.Messages {
		out = append(out, chat.MessagePayload{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			Timestamp: m.Timestamp.UnixMilli(),
		})
	}
	return out, nil
}

func login(base, username string) (token, userID string, err error) {
	payload, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(base+"/auth/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var body struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	return body.Token, body.UserID, nil
}

func dial(base, token string) (*websocket.Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = "token=" + url.QueryEscape(token)
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return ws, err
}
