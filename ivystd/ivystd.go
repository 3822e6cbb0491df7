// Package ivystd is a singleton convenience layer over package ivy,
// mirroring the free-function API of the reference implementation's
// std_api module (itself a thin wrapper around one process-wide
// _IvyServer). spec.md §9 calls this out explicitly: replace the global
// mutable module state with an explicit Agent handle, then layer the
// singleton API on top for parity. Prefer ivy.New directly in any
// program that needs more than one Agent per process.
package ivystd

import (
	"github.com/sbigaret/ivy-go"
)

var agent *ivy.Agent

// Init creates the package-level Agent. Calling it twice without an
// intervening Stop is an error.
func Init(agentName, readyMsg string, onConnect ivy.ConnectCallback, onDie ivy.DieCallback) error {
	if agent != nil {
		return &ivy.IllegalStateError{Reason: "ivystd already initialized"}
	}
	opts := []ivy.Option{ivy.WithReadyMessage(readyMsg)}
	if onConnect != nil {
		opts = append(opts, ivy.WithOnConnect(onConnect))
	}
	if onDie != nil {
		opts = append(opts, ivy.WithOnDie(onDie))
	}
	a, err := ivy.New(agentName, opts...)
	if err != nil {
		return err
	}
	agent = a
	return nil
}

// Start begins discovery and serving on busAddr (empty string for the
// default/IVYBUS-derived bus).
func Start(busAddr string) error { return agent.Start(busAddr) }

// Stop shuts the singleton agent down and releases it, allowing a
// subsequent Init.
func Stop() error {
	err := agent.Stop()
	agent = nil
	return err
}

func BindMsg(cb ivy.SubscriptionCallback, pattern string) int { return agent.BindMsg(cb, pattern) }
func UnbindMsg(id int) error                                  { return agent.UnbindMsg(id) }

func BindDirectMsg(cb ivy.DirectMsgCallback)       { agent.BindDirectMsg(cb) }
func BindRegexpChange(cb ivy.RegexpChangeCallback) { agent.BindRegexpChange(cb) }
func BindPong(cb ivy.PongCallback)                 { agent.BindPong(cb) }

func SendMsg(text string) int { return agent.SendMsg(text) }
func SendDirectMsg(peer *ivy.Peer, numID int, payload string) {
	agent.SendDirectMsg(peer, numID, payload)
}
func SendDieMsg(peer *ivy.Peer, numID int, payload string) { agent.SendDieMsg(peer, numID, payload) }
func SendError(peer *ivy.Peer, numID int, payload string)  { agent.SendError(peer, numID, payload) }
func SendPing(peer *ivy.Peer)                               { agent.SendPing(peer) }

func GetApplicationList() []string { return agent.GetApplicationList() }
func GetApplication(name string) (*ivy.Peer, bool) { return agent.GetApplication(name) }
func GetApplicationHost(peer *ivy.Peer) string     { return agent.GetApplicationHost(peer) }
func GetApplicationMessages(peer *ivy.Peer) []ivy.Subscription {
	return agent.GetApplicationMessages(peer)
}
func GetMessages() []ivy.Subscription { return agent.GetMessages() }

func TimerRepeatAfter(count, delayMs int, cb ivy.TimerCallback) *ivy.Timer {
	return agent.TimerRepeatAfter(count, delayMs, cb)
}
func TimerModify(id, delayMs int) error { return agent.TimerModify(id, delayMs) }
func TimerRemove(id int)                { agent.TimerRemove(id) }
