package client

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// Options is one parsed command line.
type Options struct {
	Server   string
	Token    string
	Slug     string
	Password string
	Expires  string
	MaxViews int
	Delete   string
	Paths    []ParsedPath
}

// Upload fields of the share settings, empty when unset.
func (o *Options) fields() map[string]string {
	fields := map[string]string{}
	if o.Slug != "" {
		fields["slug"] = o.Slug
	}
	if o.Password != "" {
		fields["password"] = o.Password
	}
	if o.Expires != "" {
		fields["expiresAt"] = o.Expires
	}
	if o.MaxViews > 0 {
		fields["maxViews"] = strconv.Itoa(o.MaxViews)
	}
	return fields
}

// ParseFlags parses the snowshare command line. Server and token fall back
// to SNOWSHARE_SERVER and SNOWSHARE_TOKEN.
func ParseFlags(args []string, output io.Writer) (*Options, error) {
	opts := &Options{}

	fs := flag.NewFlagSet("snowshare", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: snowshare [flags] <file|dir>...")
		fmt.Fprintln(output, "       snowshare -delete <slug>")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.Server, "server", envOr("SNOWSHARE_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVar(&opts.Token, "token", os.Getenv("SNOWSHARE_TOKEN"), "API bearer token")
	fs.StringVar(&opts.Slug, "slug", "", "custom share slug")
	fs.StringVar(&opts.Password, "password", "", "protect the share with a password")
	fs.StringVar(&opts.Expires, "expires", "", "expiry as RFC3339 or YYYY-MM-DD")
	fs.IntVar(&opts.MaxViews, "max-views", 0, "maximum number of downloads")
	fs.StringVar(&opts.Delete, "delete", "", "delete the share with this slug")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.Server = strings.TrimRight(opts.Server, "/")

	if opts.MaxViews < 0 {
		return nil, &ValidationError{Arg: "-max-views", Cause: "must not be negative"}
	}
	if opts.Delete != "" {
		if opts.Token == "" {
			return nil, &ValidationError{Arg: "-delete", Cause: "requires a token"}
		}
		if fs.NArg() > 0 {
			return nil, errors.New("-delete takes no file arguments")
		}
		return opts, nil
	}

	paths, err := ParseArgs(fs.Args())
	if err != nil {
		return nil, err
	}
	opts.Paths = paths
	return opts, nil
}

func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []ParsedPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		switch {
		case info.IsDir():
			kind = PathDir
		case !info.Mode().IsRegular():
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
