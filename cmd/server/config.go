package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"

	vc "github.com/linnemanlabs/prealert/internal/cfg"
	"github.com/linnemanlabs/prealert/internal/objstore/s3store"
)

const envPrefix = "PREALERT_"

// settings gathers every package's config. Each package owns its flags.
type settings struct {
	app     vc.Config
	s3      s3store.Config
	http    httpserver.Config
	httpmw  httpmw.Config
	log     log.Config
	ops     opshttp.Config
	prof    prof.Config
	trace   otelx.Config
	version bool
}

func (s *settings) register(fs *flag.FlagSet) {
	s.app.RegisterFlags(fs)
	s.s3.RegisterFlags(fs)
	s.http.RegisterFlags(fs)
	s.httpmw.RegisterFlags(fs)
	s.log.RegisterFlags(fs)
	s.ops.RegisterFlags(fs)
	s.prof.RegisterFlags(fs)
	s.trace.RegisterFlags(fs)
	fs.BoolVar(&s.version, "V", false, "Print version+build information and exit")
}

// loadSettings parses args, then fills unset flags from PREALERT_* env vars.
// Flags given on the command line win over env.
func loadSettings(fs *flag.FlagSet, args []string, warn io.Writer) (*settings, error) {
	s := &settings{}
	s.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if s.version {
		return s, nil
	}

	cfg.FillFromEnv(fs, envPrefix, func(format string, a ...any) {
		_, _ = fmt.Fprintf(warn, format+"\n", a...)
	})

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func (s *settings) validate() error {
	err := errors.Join(
		s.app.Validate(),
		s.s3.Validate(),
		s.http.Validate(),
		s.httpmw.Validate(),
		s.log.Validate(),
		s.ops.Validate(),
		s.prof.Validate(),
		s.trace.Validate(),
	)
	if err != nil {
		return err
	}
	if s.app.APIPort == s.ops.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", s.app.APIPort)
	}
	return nil
}
