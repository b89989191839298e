package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jessevdk/go-flags"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/topic"
)

// options is the command line, parsed with go-flags.
type options struct {
	Config     string `long:"config" value-name:"PATH" description:"root configuration file (default $SCS_CONFIG or configs/config.yaml)"`
	Pub        string `short:"p" long:"pub" value-name:"UDS_PUB" description:"read publications from a listening Unix domain socket instead of stdin"`
	PubChannel string `long:"pub-channel" value-name:"CODE" description:"raw mode: publish each input line to the channel topic"`
	PubTopic   string `long:"pub-topic" value-name:"TOPIC" description:"raw mode: publish each input line to TOPIC"`
	Sub        bool   `short:"s" long:"sub" description:"deliver subscriptions to Unix domain sockets given as TOPIC UDS_SUB pairs"`
	Channel    string `short:"c" long:"channel" value-name:"CODE" description:"subscribe to the channel topic"`
	Echo       bool   `short:"e" long:"echo" description:"also write inbound envelopes and published payloads to stdout"`
	LED        string `short:"l" long:"led" value-name:"LED_UDS" description:"write LED status documents to this Unix domain socket"`
	Inhibit    bool   `short:"i" long:"inhibit" description:"connect and subscribe but never publish"`
	Verbose    bool   `short:"v" long:"verbose" description:"report diagnostics on stderr"`

	// Args holds the positional TOPIC and UDS_SUB arguments.
	Args []string `no-flag:"true"`
}

// subscriptionArg is one requested subscription before topics are resolved.
type subscriptionArg struct {
	Topic   string
	Channel topic.Channel
	Sink    string
}

// usageError is an invalid argument combination. It maps to exit status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// errHelp reports that --help was requested and the help text written.
var errHelp = errors.New("help requested")

// parseArgs parses and validates the command line. Help text is written
// to stdout.
//
// Returns:
//   - *options: Parsed options
//   - error: errHelp, a *usageError, or nil
func parseArgs(args []string, stdout io.Writer) (*options, error) {
	opts := &options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "mqttclient"
	parser.Usage = "[OPTIONS] { -c CODE [UDS_SUB] | [TOPIC [UDS_SUB]]... }"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, ferr.Message)
			return nil, errHelp
		}
		return nil, &usageError{msg: err.Error()}
	}
	opts.Args = rest

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// validate checks argument combinations. Channel codes are checked here
// too so that nothing touches the network with a bad command line.
func (o *options) validate() error {
	if o.PubChannel != "" && o.PubTopic != "" {
		return usagef("--pub-channel and --pub-topic are mutually exclusive")
	}
	if o.PubChannel != "" {
		if _, err := topic.ParseChannel(o.PubChannel); err != nil {
			return err
		}
	}
	if o.PubTopic != "" {
		if err := mqtt.ValidatePublishTopic(o.PubTopic); err != nil {
			return usagef("--pub-topic: %v", err)
		}
	}

	if o.Channel != "" {
		if _, err := topic.ParseChannel(o.Channel); err != nil {
			return err
		}
		switch {
		case o.Sub && len(o.Args) != 1:
			return usagef("--channel with --sub takes exactly one UDS_SUB argument")
		case !o.Sub && len(o.Args) != 0:
			return usagef("--channel cannot be combined with topic arguments")
		}
	} else {
		if o.Sub && len(o.Args) == 0 {
			return usagef("--sub needs TOPIC UDS_SUB pairs")
		}
		if o.Sub && len(o.Args)%2 != 0 {
			return usagef("--sub needs TOPIC UDS_SUB pairs, got %d arguments", len(o.Args))
		}
	}

	subs := o.subscriptions()
	if o.Echo && len(subs) == 0 {
		return usagef("--echo needs a subscription")
	}
	for _, sub := range subs {
		if sub.Channel != topic.None {
			continue
		}
		if err := mqtt.ValidateFilter(sub.Topic); err != nil {
			return usagef("subscription %q: %v", sub.Topic, err)
		}
	}
	return nil
}

// subscriptions returns the requested subscriptions in argument order.
// The options must already be valid.
func (o *options) subscriptions() []subscriptionArg {
	if o.Channel != "" {
		channel, _ := topic.ParseChannel(o.Channel)
		sub := subscriptionArg{Channel: channel}
		if o.Sub {
			sub.Sink = o.Args[0]
		}
		return []subscriptionArg{sub}
	}

	if !o.Sub {
		subs := make([]subscriptionArg, 0, len(o.Args))
		for _, t := range o.Args {
			subs = append(subs, subscriptionArg{Topic: t})
		}
		return subs
	}

	subs := make([]subscriptionArg, 0, len(o.Args)/2)
	for i := 0; i+1 < len(o.Args); i += 2 {
		subs = append(subs, subscriptionArg{Topic: o.Args[i], Sink: o.Args[i+1]})
	}
	return subs
}

// publishTarget returns the raw-mode channel and explicit topic, if any.
func (o *options) publishTarget() (topic.Channel, string) {
	if o.PubChannel == "" {
		return topic.None, o.PubTopic
	}
	channel, _ := topic.ParseChannel(o.PubChannel)
	return channel, ""
}
