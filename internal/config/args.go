package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// scanConfigFlag makes a cheap first pass over argv looking only for
// --config PATH (or --config=PATH), without registering or validating any
// other flag. This mirrors _examples/original_source/src/main.c's
// parse_config_file, which does the same lightweight scan before the real
// getopt_long pass.
func scanConfigFlag(argv []string) (path string, found bool) {
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		switch {
		case a == "--config":
			if i+1 < len(argv) {
				return argv[i+1], true
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config="), true
		}
	}
	return "", false
}

// LoadConfigFile reads a config file, one option per line in "--name value"
// or bare "--name" form, and returns it flattened into argv-shaped tokens
// ready to be prepended ahead of the real command line. Blank lines and
// lines starting with '#' are skipped.
func LoadConfigFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "-") {
			return nil, errors.Errorf("config file %s: malformed line %q (must start with -)", path, line)
		}
		// Split on the first space only: "--name rest of value" — the value
		// itself may legitimately contain spaces (e.g. a user-agent string).
		if sp := strings.IndexByte(line, ' '); sp >= 0 {
			out = append(out, line[:sp], strings.TrimSpace(line[sp+1:]))
		} else {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildFlagSet registers every option from spec.md §6 onto cfg, returning
// the flag set so callers (cobra commands, tests) can parse argv into it.
func BuildFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("httpdirfs", flag.ContinueOnError)

	fs.String("config", "", "read extra options from PATH, one per line")
	fs.StringVarP(&cfg.Username, "username", "u", "", "HTTP Basic username")
	fs.StringVarP(&cfg.Password, "password", "p", "", "HTTP Basic password")
	fs.StringVarP(&cfg.Proxy, "proxy", "P", "", "proxy URL")
	fs.StringVar(&cfg.ProxyUsername, "proxy-username", "", "proxy username")
	fs.StringVar(&cfg.ProxyPassword, "proxy-password", "", "proxy password")
	fs.StringVar(&cfg.ProxyCACert, "proxy-cacert", "", "proxy CA bundle path")
	fs.StringVar(&cfg.CACert, "cacert", "", "server CA bundle path")
	fs.BoolVar(&cfg.CacheEnabled, "cache", false, "enable the on-disk cache")
	fs.StringVar(&cfg.CacheDir, "cache-location", "", "cache root directory")

	var segMiB int
	fs.IntVar(&segMiB, "dl-seg-size", DefaultDataBlockSize/(1024*1024), "download segment size in MiB")
	fs.IntVar(&cfg.MaxSegmentCount, "max-seg-count", DefaultMaxSegmentCount, "per-file segment cap")
	fs.IntVar(&cfg.MaxConns, "max-conns", DefaultMaxConns, "connection pool size")
	fs.StringVar(&cfg.UserAgent, "user-agent", DefaultUserAgent, "override User-Agent")
	fs.IntVar(&cfg.RetryWaitSec, "retry-wait", DefaultRetryWaitSec, "seconds to wait after a temporary HTTP failure")
	fs.BoolVar(&cfg.NoRangeCheck, "no-range-check", false, "skip the Accept-Ranges probe")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", false, "disable TLS peer verification")

	var singleFileMode bool
	fs.BoolVar(&singleFileMode, "single-file-mode", false, "mount a single URL as a one-file directory")

	fs.StringVar(&cfg.SonicUsername, "sonic-username", "", "Subsonic username")
	fs.StringVar(&cfg.SonicPassword, "sonic-password", "", "Subsonic password")
	fs.BoolVar(&cfg.SonicID3, "sonic-id3", false, "use Subsonic ID3 browsing endpoints")
	fs.BoolVar(&cfg.SonicInsecure, "sonic-insecure", false, "send Subsonic credentials in the clear")

	var fuseOpts []string
	fs.StringSliceVarP(&fuseOpts, "options", "o", nil, "options passed through to the FUSE framework")
	fs.BoolVarP(&cfg.Debug, "debug", "d", false, "enable FUSE debug output")
	fs.BoolVarP(&cfg.Foreground, "foreground", "f", false, "run in the foreground")
	fs.BoolVarP(&cfg.SingleThreaded, "single-threaded", "s", false, "disable FUSE multithreading")

	fs.SetInterspersed(true)

	// Stash the derived/oddly-typed values so ParseArgs can apply them after
	// fs.Parse populates the primitives above.
	postParse = append(postParse, func() {
		cfg.DataBlockSize = int64(segMiB) * 1024 * 1024
		if singleFileMode {
			cfg.Mode = ModeSingle
		}
		cfg.FuseOptions = fuseOpts
	})

	return fs
}

// postParse accumulates closures that copy derived-flag-set state (MiB ->
// bytes, a bool -> an enum, etc.) back onto the Config after Parse returns.
// BuildFlagSet is called exactly once per ParseArgs invocation in practice,
// so a package-level slice is reset there rather than threading extra state
// through the flag package's API.
var postParse []func()

// ParseArgs implements the two-pass CLI+config-file parsing described in
// SPEC_FULL.md §11: argv is scanned once for --config, the referenced file
// (or the XDG default, if it exists and --config was not given) is flattened
// into argv-shaped tokens and prepended, then the combined list is parsed
// for real. CLI-supplied flags win over config-file ones because pflag lets
// a later occurrence of a flag overwrite an earlier one.
func ParseArgs(argv []string) (*Config, []string, error) {
	postParse = nil
	cfg := Default()

	configPath, explicit := scanConfigFlag(argv)
	if !explicit {
		if p, err := DefaultConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
				explicit = true
			}
		}
	}

	combined := argv
	if explicit {
		cfg.ConfigFile = configPath
		fileArgs, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "config: loading %s", configPath)
		}
		combined = append(append([]string{}, fileArgs...), argv...)
	}

	fs := BuildFlagSet(cfg)
	if err := fs.Parse(combined); err != nil {
		return nil, nil, errors.Wrap(err, "config: parsing arguments")
	}
	for _, apply := range postParse {
		apply()
	}
	postParse = nil

	if cfg.CacheEnabled && cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, nil, err
		}
		cfg.CacheDir = dir
	}

	positional := fs.Args()
	if len(positional) >= 1 {
		cfg.BaseURL = positional[0]
	}
	if len(positional) >= 2 {
		cfg.MountPoint = positional[1]
	}

	return cfg, positional, nil
}
