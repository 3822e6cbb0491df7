// Command ivyprobe is a REPL/monitor for an Ivy bus, the Go-native
// analogue of the reference distribution's ivyprobe tool: it joins the
// bus, logs every connect/disconnect/regexp-change/message event the
// way the teacher's cmd/monitor logs ZRE events, and lets the operator
// type either a bare message (sent as-is) or ":sub <regex>" to add a
// new subscription that echoes whatever it matches.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/sbigaret/ivy-go"
)

func main() {
	app := cli.NewApp()
	app.Name = "ivyprobe"
	app.Usage = "join an Ivy bus and monitor traffic"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "name", Value: "ivyprobe", Usage: "agent name to announce on the bus"},
		cli.StringFlag{Name: "bus", Value: "", Usage: "bus address, e.g. 127:2010 (defaults to IVYBUS or 127:2010)"},
		cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	agentName := c.String("name")

	opts := []ivy.Option{
		ivy.WithVerbose(c.Bool("verbose")),
		ivy.WithOnConnect(func(p *ivy.Peer) {
			log.Printf("[%s] peer %q connected\n", agentName, p.RemoteName)
		}),
		ivy.WithOnDisconnect(func(p *ivy.Peer) {
			log.Printf("[%s] peer %q disconnected\n", agentName, p.RemoteName)
		}),
		ivy.WithOnRegexpChange(func(p *ivy.Peer, kind ivy.RegexpChangeKind, id int, regexp string) {
			log.Printf("[%s] peer %q %s subscription %d: %q\n", agentName, p.RemoteName, kind, id, regexp)
		}),
		ivy.WithOnDirectMsg(func(p *ivy.Peer, numID int, payload string) {
			log.Printf("[%s] direct message %d from %q: %q\n", agentName, numID, p.RemoteName, payload)
		}),
		ivy.WithOnPong(func(p *ivy.Peer, delta time.Duration) {
			log.Printf("[%s] pong from %q after %v\n", agentName, p.RemoteName, delta)
		}),
	}

	agent, err := ivy.New(agentName, opts...)
	if err != nil {
		return err
	}

	agent.BindMsg(func(p *ivy.Peer, captures ...string) {
		log.Printf("[%s] message from %q: %v\n", agentName, p.RemoteName, captures)
	}, ".*")

	if err := agent.Start(c.String("bus")); err != nil {
		return err
	}
	defer agent.Stop()

	fmt.Println("type a message to broadcast it, or :sub <regex> to add a subscription")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ":sub ") {
			pattern := strings.TrimPrefix(line, ":sub ")
			id := agent.BindMsg(func(p *ivy.Peer, captures ...string) {
				log.Printf("[%s] (sub %q) from %q: %v\n", agentName, pattern, p.RemoteName, captures)
			}, pattern)
			fmt.Printf("subscribed as id %d\n", id)
			continue
		}
		agent.SendMsg(line)
	}
	return scanner.Err()
}
