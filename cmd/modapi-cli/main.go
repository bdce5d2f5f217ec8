package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/mcdiamondfire/modapi/internal/config"
	"github.com/mcdiamondfire/modapi/internal/logging"
	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/protocol/schema"
	"github.com/mcdiamondfire/modapi/internal/ws"
)

const usage = `Usage: modapi-cli <command> [arguments]

Commands:
  ids [modapi|plugin]                                  List registered packet ids
  encode <protocol> <packet_id> <json> [request_id]    Wrap a message in an envelope
  decode <protocol> <envelope>                         Decode an envelope
  request [flags] <packet_id> <json>                   Send a request to a server and print the reply
`

var errUsage = errors.New("invalid arguments")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "modapi-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}

	switch args[0] {
	case "ids":
		return listIDs(args[1:], out)
	case "encode":
		return encode(args[1:], out)
	case "decode":
		return decode(args[1:], out)
	case "request":
		return request(args[1:], out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func listIDs(args []string, out io.Writer) error {
	names := []string{protocol.NameModAPI, protocol.NamePlugin}
	switch len(args) {
	case 0:
	case 1:
		names = args
	default:
		return errUsage
	}

	for _, name := range names {
		reg, err := protocol.ByName(name)
		if err != nil {
			return err
		}
		for _, e := range reg.Entries() {
			fmt.Fprintf(out, "%s\t%s\t%s\n", name, e.ID, e.Type.Descriptor().FullName())
		}
	}
	return nil
}

func encode(args []string, out io.Writer) error {
	if len(args) != 3 && len(args) != 4 {
		return errUsage
	}
	reg, err := protocol.ByName(args[0])
	if err != nil {
		return err
	}

	var opts []protocol.EncodeOption
	if len(args) == 4 {
		rid, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("request id: %w", err)
		}
		opts = append(opts, protocol.WithRequestID(rid))
	}

	data, err := encodeMessage(protocol.NewCodec(reg), args[1], args[2], opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", data)
	return nil
}

func encodeMessage(codec *protocol.Codec, id, text string, opts ...protocol.EncodeOption) ([]byte, error) {
	mt, ok := codec.Registry().LookupType(id)
	if !ok {
		return nil, &protocol.UnknownPacketIDError{PacketID: id}
	}
	m, err := schema.FromJSON(mt, text)
	if err != nil {
		return nil, err
	}
	return codec.Encode(m, opts...)
}

func decode(args []string, out io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	reg, err := protocol.ByName(args[0])
	if err != nil {
		return err
	}

	msg, err := protocol.NewCodec(reg).Decode([]byte(args[1]))
	if err != nil {
		return err
	}
	return printMessage(out, msg)
}

func printMessage(out io.Writer, msg *protocol.DecodedMessage) error {
	body, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(msg.Message)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "packet_id: %s\n", msg.ID)
	fmt.Fprintf(out, "type: %s\n", msg.Message.ProtoReflect().Descriptor().FullName())
	if rid, ok := msg.CorrelationID(); ok {
		fmt.Fprintf(out, "request_id: %d\n", rid)
	}
	fmt.Fprintf(out, "message: %s\n", body)
	return nil
}

func request(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	url := fs.String("url", "ws://localhost:8080/ws", "server websocket URL")
	protoName := fs.String("protocol", protocol.NameModAPI, "protocol: modapi or plugin")
	subprotocol := fs.String("subprotocol", ws.DefaultSubprotocol, "websocket subprotocol")
	timeout := fs.Duration("timeout", 5*time.Second, "dial and reply timeout")
	verbose := fs.Bool("v", false, "log connection events to stderr")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 2 {
		return errUsage
	}

	reg, err := protocol.ByName(*protoName)
	if err != nil {
		return err
	}
	codec := protocol.NewCodec(reg)

	mt, ok := reg.LookupType(fs.Arg(0))
	if !ok {
		return &protocol.UnknownPacketIDError{PacketID: fs.Arg(0)}
	}
	m, err := schema.FromJSON(mt, fs.Arg(1))
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if *verbose {
		lc := config.DefaultConfig().Log
		lc.Level = "debug"
		if logger, err = logging.New(lc); err != nil {
			return err
		}
		defer logger.Sync()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := ws.Dial(ctx, *url, codec, ws.ClientOptions{Subprotocol: *subprotocol, Logger: logger})
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Request(ctx, m)
	if err != nil {
		return fmt.Errorf("request %s: %w", fs.Arg(0), err)
	}
	return printMessage(out, reply)
}
