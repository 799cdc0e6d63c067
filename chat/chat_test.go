package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/combo-overlay/backend/combo"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testNormalizer(dev bool) Normalizer {
	return Normalizer{DevMode: dev, Now: func() time.Time { return fixedNow }}
}

func TestFromTagsOneTapGift(t *testing.T) {
	n := testNormalizer(false)
	tests := []struct {
		name    string
		tags    map[string]string
		want    combo.Category
		wantOK  bool
		wantUsr string
	}{
		{
			name: "heart gift",
			tags: map[string]string{"msg-id": MsgIDOneTapGift, "msg-param-bits-spent": "5", "msg-param-gift-id": "heart", "msg-param-user-display-name": "Alice", "color": "#FF0000"},
			want: combo.CategorySecondary, wantOK: true, wantUsr: "alice",
		},
		{
			name: "hearts plural",
			tags: map[string]string{"msg-id": MsgIDOneTapGift, "msg-param-bits-spent": "5", "msg-param-gift-id": "Hearts", "display-name": "Bob"},
			want: combo.CategorySecondary, wantOK: true, wantUsr: "bob",
		},
		{
			name: "horselul gift",
			tags: map[string]string{"msg-id": MsgIDOneTapGift, "msg-param-bits-spent": "50", "msg-param-gift-id": "horselul"},
			want: combo.CategoryPrimary, wantOK: true, wantUsr: "anonymous",
		},
		{
			name: "unknown gift",
			tags: map[string]string{"msg-id": MsgIDOneTapGift, "msg-param-bits-spent": "50", "msg-param-gift-id": "rocket"},
		},
		{
			name: "missing bits",
			tags: map[string]string{"msg-id": MsgIDOneTapGift, "msg-param-gift-id": "heart"},
		},
		{
			name: "other notice",
			tags: map[string]string{"msg-id": "sub", "msg-param-bits-spent": "5", "msg-param-gift-id": "heart"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := n.FromTags(tt.tags)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Type != tt.want || ev.Username != tt.wantUsr {
				t.Errorf("got %s/%s, want %s/%s", ev.Type, ev.Username, tt.want, tt.wantUsr)
			}
			if ev.Timestamp != fixedNow.UnixMilli() {
				t.Errorf("timestamp = %d", ev.Timestamp)
			}
		})
	}
}

func TestFromTagsColorAndBits(t *testing.T) {
	ev, ok := testNormalizer(false).FromTags(map[string]string{
		"msg-id": MsgIDOneTapGift, "msg-param-bits-spent": "50", "msg-param-gift-id": "horselul", "color": "#00FF00",
	})
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Bits != 50 {
		t.Errorf("bits = %d", ev.Bits)
	}
	if ev.Color != "#00ff00" {
		t.Errorf("color = %q", ev.Color)
	}
}

func TestFromPrivateMessageCheer(t *testing.T) {
	n := testNormalizer(false)
	msg := twitch.PrivateMessage{User: twitch.User{Name: "carol", Color: "#123456"}, Message: "Cheer100 HorseLUL go", Bits: 100}
	ev, ok := n.FromPrivateMessage(msg)
	if !ok || ev.Type != combo.CategoryPrimary || ev.Bits != 100 || ev.Username != "carol" {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}

	msg.Message = "Cheer100 hearts and horselul"
	ev, ok = n.FromPrivateMessage(msg)
	if !ok || ev.Type != combo.CategorySecondary {
		t.Fatalf("heart should win over horselul, got %+v", ev)
	}

	msg.Message = "Cheer100 nice"
	if _, ok := n.FromPrivateMessage(msg); ok {
		t.Fatal("cheer without a category must be ignored")
	}
}

func TestFromPrivateMessageDevTriggers(t *testing.T) {
	msg := twitch.PrivateMessage{User: twitch.User{Name: "dave"}, Message: "  #HEART hello"}
	if _, ok := testNormalizer(false).FromPrivateMessage(msg); ok {
		t.Fatal("triggers are disabled outside dev mode")
	}
	n := testNormalizer(true)
	ev, ok := n.FromPrivateMessage(msg)
	if !ok || ev.Type != combo.CategorySecondary || ev.Bits != DevSecondaryBits {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}
	ev, ok = n.FromPrivateMessage(twitch.PrivateMessage{User: twitch.User{Name: "dave"}, Message: "#horselul"})
	if !ok || ev.Type != combo.CategoryPrimary || ev.Bits != DevPrimaryBits {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}
	for _, text := range []string{"#heartbeat", "say #heart", "#horse"} {
		if _, ok := n.FromPrivateMessage(twitch.PrivateMessage{Message: text}); ok {
			t.Errorf("%q should not trigger", text)
		}
	}
}

func TestFromRaw(t *testing.T) {
	n := testNormalizer(false)
	line := `@color=#FF0000;display-name=Alice;msg-id=onetapgiftredeemed;msg-param-bits-spent=5;msg-param-gift-id=heart;msg-param-user-display-name=Alice :tmi.twitch.tv USERNOTICE #somechannel`
	ev, ok := n.FromRaw(line)
	if !ok {
		t.Fatal("expected gift event")
	}
	if ev.Type != combo.CategorySecondary || ev.Username != "alice" || ev.Bits != 5 {
		t.Errorf("unexpected %+v", ev)
	}

	cheer := `@bits=100;color=#00FF00;display-name=Bob :bob!bob@bob.tmi.twitch.tv PRIVMSG #somechannel :Cheer100 horselul`
	ev, ok = n.FromRaw(cheer)
	if !ok || ev.Type != combo.CategoryPrimary || ev.Username != "bob" {
		t.Fatalf("unexpected %+v ok=%v", ev, ok)
	}

	for _, bad := range []string{"", "   ", "PING :tmi.twitch.tv"} {
		if _, ok := n.FromRaw(bad); ok {
			t.Errorf("%q should not produce an event", bad)
		}
	}
}

func TestSimulated(t *testing.T) {
	ev := testNormalizer(true).Simulated(combo.CategoryPrimary, "", "")
	if ev.Username != "testuser" || ev.Bits != DevPrimaryBits {
		t.Errorf("unexpected %+v", ev)
	}
}

func TestStartAutoListenerReconnects(t *testing.T) {
	orig := listen
	t.Cleanup(func() { listen = orig })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	listen = func(ctx context.Context, channel string, n Normalizer, sink Sink, opts ListenOptions) error {
		if calls.Add(1) >= 3 {
			cancel()
			<-ctx.Done()
			return nil
		}
		return errors.New("connection reset")
	}

	done := make(chan struct{})
	go func() {
		StartAutoListener(ctx, "chan", testNormalizer(false), func(string, combo.Event) {}, ListenOptions{}, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("listen called %d times, want 3", got)
	}
}

func TestStartAutoListenerEmptyChannel(t *testing.T) {
	orig := listen
	t.Cleanup(func() { listen = orig })
	listen = func(context.Context, string, Normalizer, Sink, ListenOptions) error {
		t.Fatal("listen must not be called")
		return nil
	}
	StartAutoListener(context.Background(), "", Normalizer{}, nil, ListenOptions{}, 0)
}
