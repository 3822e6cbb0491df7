// Command ivychat is a minimal line-chat agent: everyone subscribed to
// ^chat (.*)$ sees everything everyone else sends. It is the Go-native
// analogue of the teacher's examples/chat.go, rebuilt against package
// ivy instead of gyre's group-based Shout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sbigaret/ivy-go"
)

var (
	name = flag.String("name", "ivychat", "my name on the bus")
	bus  = flag.String("bus", "", "bus address, e.g. 127:2010 (defaults to IVYBUS or 127:2010)")
)

func main() {
	flag.Parse()

	agent, err := ivy.New(*name,
		ivy.WithOnConnect(func(p *ivy.Peer) {
			fmt.Printf("\r* %s joined\n%s> ", p.RemoteName, *name)
		}),
		ivy.WithOnDisconnect(func(p *ivy.Peer) {
			fmt.Printf("\r* %s left\n%s> ", p.RemoteName, *name)
		}),
	)
	if err != nil {
		log.Fatalln(err)
	}

	agent.BindMsg(func(peer *ivy.Peer, captures ...string) {
		if len(captures) == 0 {
			return
		}
		fmt.Printf("\r%s\n%s> ", captures[0], *name)
	}, "^chat (.*)$")

	if err := agent.Start(*bus); err != nil {
		log.Fatalln(err)
	}
	defer agent.Stop()

	fmt.Printf("%s> ", *name)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		agent.SendMsg(fmt.Sprintf("chat %s: %s", *name, scanner.Text()))
		fmt.Printf("%s> ", *name)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalln("reading standard input:", err)
	}
}
