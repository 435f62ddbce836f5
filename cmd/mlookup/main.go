// Command mlookup is the MARP CLI client: it builds a standard query
// for a single handle@host/protocol pair, sends it to a server, and
// prints the AES-decrypted answer. Grounded on
// original_source/client/mlookup.c, whose body was never filled in
// beyond argument validation — the request/reply exchange here
// follows spec.md §6's textual description instead of ported C.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethgordon/marp/internal/cryptoutil"
	"github.com/ethgordon/marp/internal/frame"
	"github.com/ethgordon/marp/internal/header"
	"github.com/ethgordon/marp/internal/query"
	"github.com/ethgordon/marp/internal/response"
	"github.com/ethgordon/marp/internal/socket"
)

const (
	defaultServer = "127.0.0.1"
	serverPort    = 5001
	replyTimeout  = 1 * time.Second
)

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <handle@host> <protocol#> [<server>]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 3 || len(os.Args) > 4 {
		printUsage()
		os.Exit(1)
	}

	id := os.Args[1]
	protocolArg := os.Args[2]
	server := defaultServer
	if len(os.Args) == 4 {
		server = os.Args[3]
	}

	if !strings.Contains(id, "@") {
		fmt.Fprintf(os.Stderr, "%s: identifier must be of the form handle@host\n", os.Args[0])
		os.Exit(1)
	}

	protocol, err := strconv.ParseUint(protocolArg, 10, 16)
	if err != nil || protocol == 0 {
		fmt.Fprintf(os.Stderr, "%s: invalid protocol id %q\n", os.Args[0], protocolArg)
		os.Exit(1)
	}

	_, outer := cryptoutil.HashTwice(id)
	decryptKey := cryptoutil.Hash(id)

	q := query.New(outer)
	if err := q.AddProtocol(uint16(protocol)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	payload, err := q.Serialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	f, err := frame.BuildQuery(header.OpSTD, false, false, 0, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	data, err := f.Serialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	sock, err := socket.NewEphemeral()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer sock.Close()

	if err := sock.SendTo(server, serverPort, data); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	buf := make([]byte, frame.MaxSize)
	n, _, _, err := sock.Recv(buf, replyTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: no reply from %s: %v\n", os.Args[0], server, err)
		os.Exit(1)
	}

	reply, err := frame.Parse(buf[:n])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: malformed reply: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	fmt.Printf("qid=%d op=%s aa=%v\n", reply.Header.QID, reply.Header.GetOp(), reply.Header.IsAA())

	switch reply.Header.GetOp() {
	case header.OpNTF:
		fmt.Println("not found")
		os.Exit(1)
	case header.OpMAL:
		fmt.Println("server reports malformed query")
		os.Exit(1)
	case header.OpSTD:
		resp, err := response.Parse(reply.Payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: malformed response payload: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		if err := resp.PrintDecrypted(os.Stdout, decryptKey); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
	default:
		fmt.Printf("unexpected op %s\n", reply.Header.GetOp())
		os.Exit(1)
	}
}
