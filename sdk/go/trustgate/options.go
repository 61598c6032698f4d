package trustgate

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath    string
	disableModel  bool
	disableOutput bool
}

// WithConfig sets the path to the security config YAML. Missing file
// means hardened defaults.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithoutAnalysis disables semantic escalation; the gate runs on
// pattern rules alone.
func WithoutAnalysis() Option {
	return func(c *clientConfig) { c.disableModel = true }
}

// WithoutOutputFilter disables outbound redaction in Guard.
func WithoutOutputFilter() Option {
	return func(c *clientConfig) { c.disableOutput = true }
}

// GuardOption configures a single Guard call.
type GuardOption func(*guardConfig)

type guardConfig struct {
	channel string
}

// GuardWithChannel fixes the channel hint for every message passing
// through this guard.
func GuardWithChannel(channel string) GuardOption {
	return func(g *guardConfig) { g.channel = channel }
}
