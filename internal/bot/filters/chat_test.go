package filters

import (
	"testing"

	"github.com/mymmrac/telego"
)

func TestCheckAccess(t *testing.T) {
	f := NewChatFilter(-100)
	human := &telego.User{ID: 1, FirstName: "Аня"}

	tests := []struct {
		name string
		msg  *telego.Message
		want bool
	}{
		{"nil", nil, false},
		{"private", &telego.Message{From: human, Chat: telego.Chat{ID: 1, Type: telego.ChatTypePrivate}}, true},
		{"group", &telego.Message{From: human, Chat: telego.Chat{ID: -5, Type: telego.ChatTypeGroup}}, false},
		{"allowed group", &telego.Message{From: human, Chat: telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup}}, true},
		{"channel post", &telego.Message{Chat: telego.Chat{ID: -7, Type: telego.ChatTypeChannel}}, false},
		{"bot", &telego.Message{From: &telego.User{ID: 2, IsBot: true}, Chat: telego.Chat{ID: 2, Type: telego.ChatTypePrivate}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.CheckAccess(tt.msg); got != tt.want {
				t.Fatalf("CheckAccess = %v, want %v", got, tt.want)
			}
		})
	}
}
