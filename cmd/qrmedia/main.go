// Command qrmedia is a CLI client for QR media sharing: it creates events,
// renders and scans their QR codes and uploads photos and videos to them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/qr-media-share/internal/app"
	"github.com/and161185/qr-media-share/internal/backend/remote"
	"github.com/and161185/qr-media-share/internal/config"
	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/media"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/qr"
	"github.com/and161185/qr-media-share/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, `qrmedia CLI
Usage:
  qrmedia [-url grpc[s]://HOST:PORT] [-key KEY] [-v] <cmd> [args]

Environment: QRMEDIA_URL, QRMEDIA_KEY, QRMEDIA_LINK_BASE, QRMEDIA_SESSION_FILE, QRMEDIA_TIMEOUT

Commands:
  version
  signup        -e <email> -p <password>
  login         -e <email> -p <password>          (saves session)
  logout
  whoami
  create-event  -name <name> [-desc <text>] [-expires <duration>] [-qr <file.png>]
  qr            -id <uuid> [-out <file.png>] [-size 256] [-fg #000000] [-bg #ffffff]
  scan          -file <image>                     (decodes a QR code and opens its event)
  open          -event <uuid|link>
  list          -event <uuid|link>
  capture       -event <uuid|link> -file <path|-> [-type photo|video]
  thumb         -file <image>                     (prints a data URL)
`)
}

// main loads configuration, builds the application context and dispatches a subcommand.
func main() {
	cfg := config.LoadClient()
	flag.StringVar(&cfg.URL, "url", cfg.URL, "backend URL")
	flag.StringVar(&cfg.Key, "key", cfg.Key, "backend anonymous key")
	flag.StringVar(&cfg.LinkBase, "link-base", cfg.LinkBase, "prefix of event links")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "version" {
		fmt.Printf("qrmedia %s (%s)\n", version, buildDate)
		return
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	sessionFile := cfg.SessionFile
	if sessionFile == "" {
		sessionFile = remote.DefaultSessionPath()
	}
	a, err := app.New(ctx, app.Config{Backend: cfg.Backend(), LinkBase: cfg.LinkBase},
		app.WithDialer(remote.Dialer(
			remote.WithTokenStore(remote.FileStore{Path: sessionFile}),
			remote.WithLogger(logger),
		)),
		app.WithLogger(logger),
	)
	if err != nil {
		fail(err)
	}
	defer func() { _ = a.Close() }()

	if err := run(ctx, a, cmd, args, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fail(err)
	}
}

// run executes one subcommand against a and writes its result to out.
func run(ctx context.Context, a *app.App, cmd string, args []string, out io.Writer) error {
	switch cmd {

	case "signup", "login":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("e", "", "email")
		password := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return fmt.Errorf("%w: need -e and -p", errUsage)
		}
		if cmd == "signup" {
			if err := a.Auth.SignUp(ctx, *email, *password); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, "account created; run login")
			return err
		}
		if err := a.Auth.SignIn(ctx, *email, *password); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "ok")
		return err

	case "logout":
		if err := a.Auth.SignOut(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "ok")
		return err

	case "whoami":
		if err := a.WaitReady(ctx); err != nil {
			return err
		}
		u := a.Auth.CurrentUser()
		if u == nil {
			return errs.ErrAuthRequired
		}
		return printJSON(out, u)

	case "create-event":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		name := fs.String("name", "", "event name")
		desc := fs.String("desc", "", "description")
		expires := fs.Duration("expires", 0, "lifetime, e.g. 48h (advisory)")
		qrOut := fs.String("qr", "", "write the event QR code to this PNG file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*name) == "" {
			return fmt.Errorf("%w: need -name", errUsage)
		}
		if err := a.WaitReady(ctx); err != nil {
			return err
		}
		var opts []store.CreateOption
		if *expires > 0 {
			opts = append(opts, store.WithExpiry(time.Now().Add(*expires)))
		}
		ev, err := a.Events.CreateEvent(ctx, *name, *desc, opts...)
		if err != nil {
			return err
		}
		if *qrOut != "" {
			if err := writeQR(*qrOut, a.EventLink(ev.ID), qr.DefaultOptions()); err != nil {
				return err
			}
		}
		return printJSON(out, ev)

	case "qr":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "event id")
		dst := fs.String("out", "", "PNG file (default <id>.png)")
		size := fs.Int("size", 256, "image size in pixels")
		fg := fs.String("fg", "#000000", "foreground colour")
		bg := fs.String("bg", "#ffffff", "background colour")
		if err := fs.Parse(args); err != nil {
			return err
		}
		ev, err := eventID(*id)
		if err != nil {
			return err
		}
		opts := qr.Options{Size: *size}
		if opts.Foreground, err = qr.ParseHexColor(*fg); err != nil {
			return err
		}
		if opts.Background, err = qr.ParseHexColor(*bg); err != nil {
			return err
		}
		path := choose(*dst, ev.String()+".png")
		if err := writeQR(path, a.EventLink(ev), opts); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, path)
		return err

	case "scan":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		file := fs.String("file", "", "image containing a QR code")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("%w: need -file", errUsage)
		}
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		text, err := qr.Decode(f)
		if err != nil {
			return err
		}
		return openAndPrint(ctx, a, text, out)

	case "open", "list":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		ref := fs.String("event", "", "event id or link")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *ref == "" {
			return fmt.Errorf("%w: need -event", errUsage)
		}
		if cmd == "open" {
			return openAndPrint(ctx, a, *ref, out)
		}
		if _, err := a.OpenScanned(ctx, *ref); err != nil {
			return err
		}
		return printJSON(out, a.Events.State().MediaItems)

	case "capture":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		ref := fs.String("event", "", "event id or link")
		file := fs.String("file", "", "photo or video file, - for stdin")
		kind := fs.String("type", "", "photo or video (default by extension)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *ref == "" || *file == "" {
			return fmt.Errorf("%w: need -event and -file", errUsage)
		}
		mt, err := mediaType(*kind, *file)
		if err != nil {
			return err
		}
		data, err := readAll(*file)
		if err != nil {
			return err
		}
		if err := a.WaitReady(ctx); err != nil {
			return err
		}
		if _, err := a.OpenScanned(ctx, *ref); err != nil {
			return err
		}
		url, err := a.Capture(ctx, data, mt)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, url)
		return err

	case "thumb":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		file := fs.String("file", "", "image file, - for stdin")
		if err := fs.Parse(args); err != nil {
			return err
		}
		data, err := readAll(*file)
		if err != nil {
			return err
		}
		uri, err := media.Thumbnail(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, uri)
		return err

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// ---- utils ----

type eventView struct {
	Event *model.Event  `json:"event"`
	Media []model.Media `json:"media"`
}

func openAndPrint(ctx context.Context, a *app.App, ref string, out io.Writer) error {
	ev, err := a.OpenScanned(ctx, ref)
	if err != nil {
		return err
	}
	return printJSON(out, eventView{Event: ev, Media: a.Events.State().MediaItems})
}

func eventID(ref string) (uuid.UUID, error) {
	raw, err := qr.EventIDFromURL(ref)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: event id %q", errs.ErrInvalidArgument, raw)
	}
	return id, nil
}

func writeQR(path, content string, opts qr.Options) error {
	png, err := qr.Encode(content, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

func mediaType(flagValue, file string) (model.MediaType, error) {
	if flagValue != "" {
		return model.ParseMediaType(flagValue)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4", ".mov", ".webm", ".m4v", ".mkv":
		return model.MediaVideo, nil
	default:
		return model.MediaPhoto, nil
	}
}

func readAll(p string) ([]byte, error) {
	if p == "" {
		return nil, fmt.Errorf("%w: need -file", errUsage)
	}
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func fail(err error) {
	switch {
	case errors.Is(err, errs.ErrNotConfigured):
		fmt.Fprintln(os.Stderr, "backend not configured: set QRMEDIA_URL and QRMEDIA_KEY or pass -url and -key")
	case errors.Is(err, errs.ErrAuthRequired):
		fmt.Fprintln(os.Stderr, "not signed in: run qrmedia login")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
