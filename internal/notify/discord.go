package notify

import (
	"context"
	"net/http"
	"strings"
)

// Discord embed colours.
const (
	colourInfo  = 0x3498db
	colourAlert = 0xe74c3c
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed. Override alerts are coloured red.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	colour := colourInfo
	if strings.Contains(strings.ToLower(title), "override") {
		colour = colourAlert
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: "polyoracle",
		Embeds:   []discordEmbed{{Title: title, Description: "```\n" + message + "\n```", Color: colour}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
