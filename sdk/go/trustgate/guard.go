package trustgate

import "context"

// HandlerFunc is a gateway message handler: it receives screened
// inbound content and returns the agent's reply.
type HandlerFunc func(ctx context.Context, msg Message) (string, error)

// Guard wraps a handler with the full boundary. Inbound content is
// screened before the handler runs; blocked messages never reach it
// and yield a *BlockedError carrying the user-visible alert. The
// reply is passed through the output filter on the way back.
func (c *Client) Guard(fn HandlerFunc, opts ...GuardOption) HandlerFunc {
	var gcfg guardConfig
	for _, o := range opts {
		o(&gcfg)
	}

	return func(ctx context.Context, msg Message) (string, error) {
		if gcfg.channel != "" && msg.Channel == "" {
			msg.Channel = gcfg.channel
		}

		res := c.Check(ctx, msg)
		if res.Blocked {
			return "", &BlockedError{
				Message:      msg,
				Reason:       res.BlockReason,
				AlertMessage: res.AlertMessage,
			}
		}

		screened := msg
		screened.Content = res.Content
		reply, err := fn(ctx, screened)
		if err != nil {
			return "", err
		}

		filtered, _ := c.FilterOutput(reply)
		return filtered, nil
	}
}
