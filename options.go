package ivy

// Option configures an Agent at construction time, the idiomatic Go
// replacement for the reference implementation's IvyServer keyword
// arguments and the teacher's own Gyre SetName/SetHeader/SetPort fluent
// setters.
type Option func(*Agent)

// WithReadyMessage sets the message replayed to each newly-initialized
// peer, targeted only at that peer via the normal dispatch path
// (spec.md §9 "Ready message delivery").
func WithReadyMessage(msg string) Option {
	return func(a *Agent) { a.readyMessage = msg }
}

// WithVerbose enables debug-level logging.
func WithVerbose(verbose bool) Option {
	return func(a *Agent) { a.logger.verbose = verbose }
}

// WithOnConnect registers the connect callback.
func WithOnConnect(cb ConnectCallback) Option {
	return func(a *Agent) { a.callbacks.onConnect = cb }
}

// WithOnDisconnect registers the disconnect callback.
func WithOnDisconnect(cb DisconnectCallback) Option {
	return func(a *Agent) { a.callbacks.onDisconnect = cb }
}

// WithOnDirectMsg registers the direct-message callback.
func WithOnDirectMsg(cb DirectMsgCallback) Option {
	return func(a *Agent) { a.callbacks.onDirectMsg = cb }
}

// WithOnRegexpChange registers the regexp-change callback.
func WithOnRegexpChange(cb RegexpChangeCallback) Option {
	return func(a *Agent) { a.callbacks.onRegexpChange = cb }
}

// WithOnPong registers the pong callback.
func WithOnPong(cb PongCallback) Option {
	return func(a *Agent) { a.callbacks.onPong = cb }
}

// WithOnDie registers the die callback.
func WithOnDie(cb DieCallback) Option {
	return func(a *Agent) { a.callbacks.onDie = cb }
}
