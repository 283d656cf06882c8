package ws

import "time"

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// SendQueue is the per-connection outbound buffer, in frames.
	SendQueue      int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	// PingPeriod must be shorter than PongWait.
	PingPeriod     time.Duration
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendQueue:       256,
		MaxMessageSize:  1 << 20,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = d.WriteBufferSize
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	return o
}
