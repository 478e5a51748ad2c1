package types

import (
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/Slach/logs-insights/pkg/timespan"
)

type CLI struct {
	ConfigPath   string
	LogPath      string
	LogLevel     string
	ConnectTo    string
	PollInterval time.Duration
	Pprof        bool
	PprofPath    string
	NewParams    NewParams
	RunParams    RunParams
}

// NewParams are the flags of the new command.
type NewParams struct {
	Groups   []string
	Relative RelativeTimeValue
	FromTime string
	ToTime   string
	Query    string
	Timezone string
	Force    bool
}

// RunParams are the flags of the run command.
type RunParams struct {
	Output  string
	Timeout time.Duration
}

func (p *NewParams) ParseFromTime(loc *time.Location) (time.Time, error) {
	return parseTime(p.FromTime, loc)
}

func (p *NewParams) ParseToTime(loc *time.Location) (time.Time, error) {
	return parseTime(p.ToTime, loc)
}

// parseTime reads value in loc unless it carries its own offset.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "can't parse time %q", value)
	}
	return t, nil
}

// RelativeTimeValue is a pflag.Value accepting relative time tokens such as PT15M.
type RelativeTimeValue string

var _ pflag.Value = (*RelativeTimeValue)(nil)

func (v *RelativeTimeValue) String() string { return string(*v) }

func (v *RelativeTimeValue) Set(s string) error {
	if err := timespan.Validate(s); err != nil {
		return err
	}
	*v = RelativeTimeValue(s)
	return nil
}

func (v *RelativeTimeValue) Type() string { return "duration-token" }
