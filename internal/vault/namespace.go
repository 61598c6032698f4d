package vault

// Key namespaces. Every vault key is "<prefix><id>"; the prefix says
// what kind of secret the entry holds.
const (
	NSDeviceAuth     = "device-auth:"
	NSDeviceIdentity = "device-identity:"
	NSAuthProfile    = "auth-profile:"
	NSPairing        = "pairing:"
	NSGatewayToken   = "gateway-token:"
	NSTelegramToken  = "telegram-token:"
	NSDiscordToken   = "discord-token:"
	NSSlackToken     = "slack-token:"
	NSWhatsAppToken  = "whatsapp-token:"
	NSChannelToken   = "channel-token:"
	NSTokenCache     = "token-cache:"
	NSEnvCache       = "env-cache:"
)

// Key joins a namespace prefix and an id.
func Key(namespace, id string) string {
	return namespace + id
}
