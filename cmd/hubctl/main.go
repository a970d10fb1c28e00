package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/hublink/internal/config"
	"github.com/danmuck/hublink/internal/hub"
	"github.com/danmuck/hublink/internal/observability"
	"github.com/danmuck/hublink/internal/sas"
	"github.com/danmuck/hublink/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var ErrUsage = errors.New("usage: hubctl <token|send|parse> [flags]")

func main() {
	observability.InitLogger("hubctl")
	if err := run(os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "hubctl: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand. A nil dialer uses go-amqp.
func run(args []string, out io.Writer, dialer transport.Dialer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], out)
	case "send":
		return runSend(args[1:], out, dialer)
	case "parse":
		return runParse(args[1:], out)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func runToken(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("hubctl token", pflag.ContinueOnError)
	hubName := flags.String("hub", "", "hub name")
	identity := flags.String("id", "", "device id, or policy name with --service")
	key := flags.String("key", "", "base64 shared access key")
	keyFile := flags.String("key-file", "", "file holding the shared access key")
	days := flags.Int("days", hub.DefaultTokenValidityDays, "token validity in days")
	service := flags.Bool("service", false, "mint a hub-scoped service token")
	if err := flags.Parse(args); err != nil {
		return err
	}

	secret, err := config.LoadSecret(*key, *keyFile)
	if err != nil {
		return err
	}
	flavor := sas.FlavorDevice
	if *service {
		flavor = sas.FlavorService
	}
	cred, err := sas.Sign(secret, sas.Request{
		Hub:          *hubName,
		Identity:     *identity,
		ValidityDays: *days,
		Flavor:       flavor,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, cred.Token)
	return nil
}

func runSend(args []string, out io.Writer, dialer transport.Dialer) error {
	flags := pflag.NewFlagSet("hubctl send", pflag.ContinueOnError)
	profilePath := flags.String("profile", "", "service profile TOML")
	hubName := flags.String("hub", "", "hub name")
	policy := flags.String("policy", "iothubowner", "shared access policy name")
	key := flags.String("key", "", "base64 policy key")
	keyFile := flags.String("key-file", "", "file holding the policy key")
	caFile := flags.String("ca-file", "", "PEM bundle to trust instead of the system roots")
	deviceID := flags.String("device", "", "target device id")
	body := flags.String("body", "", "message body")
	action := flags.String("action", "", "send {\"action\":...} instead of --body")
	timeout := flags.Duration("timeout", 10*time.Second, "send timeout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Files named on the command line are relative to the working directory,
	// even when a profile elsewhere supplies the rest.
	flagKeyFile, err := workingPath(*keyFile)
	if err != nil {
		return err
	}
	flagCAFile, err := workingPath(*caFile)
	if err != nil {
		return err
	}
	profile := config.ServiceProfile{
		HubName:        *hubName,
		Policy:         *policy,
		PrimaryKey:     *key,
		PrimaryKeyFile: flagKeyFile,
		CAFile:         flagCAFile,
	}
	base := "."
	if *profilePath != "" {
		loaded, err := config.LoadServiceProfile(*profilePath)
		if err != nil {
			return err
		}
		profile = overrideProfile(loaded, profile, flags)
		base = filepath.Dir(*profilePath)
	}
	cfg, err := profileConfig(base, profile)
	if err != nil {
		return err
	}
	sendTimeout := *timeout
	if strings.TrimSpace(profile.SendTimeout) != "" && !flags.Changed("timeout") {
		if sendTimeout, err = time.ParseDuration(strings.TrimSpace(profile.SendTimeout)); err != nil {
			return fmt.Errorf("parse send_timeout: %w", err)
		}
	}

	payload := []byte(*body)
	if *action != "" {
		data, err := json.Marshal(map[string]string{"action": *action})
		if err != nil {
			return err
		}
		payload = data
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: --body or --action required", ErrUsage)
	}

	client, err := hub.NewServiceClient(cfg, dialer, log.Logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx, hub.DefaultDisconnectTimeout) }()

	if err := client.SendToDevice(ctx, *deviceID, payload, sendTimeout); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %d bytes to %s\n", len(payload), *deviceID)
	return nil
}

// overrideProfile applies the flags the operator set explicitly on top of a
// loaded profile.
func overrideProfile(p, flagged config.ServiceProfile, flags *pflag.FlagSet) config.ServiceProfile {
	if flags.Changed("hub") {
		p.HubName = flagged.HubName
	}
	if flags.Changed("policy") {
		p.Policy = flagged.Policy
	}
	if flags.Changed("key") || flags.Changed("key-file") {
		p.PrimaryKey = flagged.PrimaryKey
		p.PrimaryKeyFile = flagged.PrimaryKeyFile
	}
	if flags.Changed("ca-file") {
		p.CAFile = flagged.CAFile
	}
	return p
}

// profileConfig loads the key and trust material, resolving relative files
// against base.
func profileConfig(base string, p config.ServiceProfile) (hub.Config, error) {
	secret, err := config.LoadSecret(p.PrimaryKey, resolve(base, p.PrimaryKeyFile))
	if err != nil {
		return hub.Config{}, err
	}
	tlsCfg, err := config.ClientTLS(resolve(base, p.CAFile), sas.Hostname(p.HubName))
	if err != nil {
		return hub.Config{}, err
	}
	return hub.Config{
		HubName:    p.HubName,
		Identity:   p.Policy,
		PrimaryKey: secret,
		TLS:        tlsCfg,
	}, nil
}

func runParse(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("hubctl parse", pflag.ContinueOnError)
	token := flags.String("token", "", "token to decode")
	if err := flags.Parse(args); err != nil {
		return err
	}
	parsed, err := sas.Parse(strings.TrimSpace(*token))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(parsed)
}

func workingPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref, nil
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return abs, nil
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(base, ref)
}
