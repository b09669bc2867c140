// Package flagx lets several components parse their own subset of the
// process arguments without tripping over flags they do not define.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is present.
const ConfigEnvVar = "INTAKEVAULT_CONFIG"

// FilterArgs keeps only the allowed flags (and their values) from args.
//
// Accepted shapes are "-f value", "-f=value" and "--f=value". A flag listed
// in switches never consumes the following argument, so "-v -a x" keeps
// "-v" alone when "-v" is a switch.
func FilterArgs(args []string, allowed []string, switches ...string) []string {
	allow := toSet(allowed)
	sw := toSet(switches)

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		if _, ok := allow[name]; !ok {
			continue
		}
		out = append(out, arg)
		if hasValue {
			continue
		}
		if _, isSwitch := sw[name]; isSwitch {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// ConfigFile returns the config file path given by -c/-config in args, or
// the value of ConfigEnvVar when neither flag is present.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	return path
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
