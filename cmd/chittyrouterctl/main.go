// The chittyrouterctl command runs a single input through the gateway
// pipeline from the command line, for operational debugging and scripted
// ingestion without standing up the HTTP intake surface. See spec.md §6
// for the exit code contract.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/gwconfig"
	"github.com/chittyos/chittyrouter-sub005/internal/gateway"
	"github.com/chittyos/chittyrouter-sub005/normalize"
)

// Exit codes, per spec.md §6.
const (
	exitOK                 = 0
	exitConfigError        = 64
	exitDependencyUnavail  = 69
	exitInternalError      = 70
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] [-kind KIND] [-source addr] [file]\nReads from stdin if no file is given.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flagConfig := flag.String("config", "", "path to gateway YAML config")
	flagKind := flag.String("kind", "", "input kind override (EMAIL, PDF, VOICE, JSON, URL, SMS, IMAGE, VIDEO, TEXT, API); empty auto-detects")
	flagSource := flag.String("source", "", "sender address, URL, or endpoint name")
	flagVerbose := flag.Bool("verbose", false, "log at debug level instead of info")
	flag.Parse()

	cfg := gwconfig.Defaults()
	if *flagConfig != "" {
		var err error
		cfg, err = gwconfig.Load(*flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: config: %v\n", os.Args[0], err)
			os.Exit(exitConfigError)
		}
	}

	level := zerolog.InfoLevel
	if *flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("service", "chittyrouterctl").Logger()

	var src io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(exitConfigError)
		}
		defer f.Close()
		src = f
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: read input: %v\n", os.Args[0], err)
		os.Exit(exitConfigError)
	}

	ctx := context.Background()
	gw, err := gateway.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: gateway build: %v\n", os.Args[0], err)
		os.Exit(exitDependencyUnavail)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Close(shutdownCtx)
	}()

	in := normalize.Input{
		Kind:     email.Kind(*flagKind),
		Source:   *flagSource,
		Received: time.Now().UTC(),
	}
	assignRaw(&in, raw)

	result := gw.Coordinator.Run(ctx, in)

	summary := resultSummary{
		EnvelopeID:   result.Envelope.ID,
		Kind:         string(result.Envelope.Kind),
		Category:     result.Triage.Category,
		UrgencyLevel: result.Triage.UrgencyLevel,
		Score:        result.Triage.UrgencyScore,
		Tier:         result.Routing.Tier,
		Sinks:        result.Routing.Sinks,
		Destinations: destinationAddrs(result.Routing.Destinations),
		DropReasons:  result.Envelope.DropReasons,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "%s: encode result: %v\n", os.Args[0], err)
		os.Exit(exitInternalError)
	}

	os.Exit(exitOK) // a policy drop is still a successful, fully-handled run
}

// assignRaw routes the raw input bytes to whichever normalize.Input field
// matches the requested (or yet-to-be-detected) kind. Kinds normalize.Detect
// can infer from content alone (EMAIL, JSON, TEXT) are tried via RawEmail
// first since email detection also inspects header-shaped text.
func assignRaw(in *normalize.Input, raw []byte) {
	switch in.Kind {
	case email.KindPDF, email.KindVoice, email.KindImage, email.KindVideo:
		in.RawBytes = raw
	case email.KindJSON, email.KindAPI:
		in.RawJSON = raw
	case email.KindURL:
		in.RawURL = string(raw)
	case email.KindSMS, email.KindText:
		in.RawText = string(raw)
	default:
		in.RawEmail = raw
		in.RawJSON = raw
		in.RawText = string(raw)
	}
}

type resultSummary struct {
	EnvelopeID   string   `json:"envelope_id"`
	Kind         string   `json:"kind"`
	Category     string   `json:"category"`
	UrgencyLevel string   `json:"urgency_level"`
	Score        int      `json:"score"`
	Tier         string   `json:"tier"`
	Sinks        []string `json:"sinks"`
	Destinations []string `json:"destinations"`
	DropReasons  []string `json:"drop_reasons,omitempty"`
}

func destinationAddrs(dests []capability.Destination) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = d.Address
	}
	return out
}
