package dispatch

import (
	"github.com/connax-utim/uhost-go/pkg/lifecycle"
	"github.com/connax-utim/uhost-go/pkg/wire"
)

var onboarded = []lifecycle.Status{
	lifecycle.StatusSRP,
	lifecycle.StatusTesting,
	lifecycle.StatusConfiguring,
	lifecycle.StatusDone,
	lifecycle.StatusNoConfig,
}

// phases lists the statuses each command is accepted in. A nil entry
// accepts every status.
var phases = map[wire.Tag][]lifecycle.Status{
	wire.TagHello:            nil,
	wire.TagCheck:            {lifecycle.StatusSRP},
	wire.TagTrusted:          onboarded,
	wire.TagVerified:         onboarded,
	wire.TagSigned:           onboarded,
	wire.TagConnectionString: {lifecycle.StatusSRP, lifecycle.StatusTesting},
	wire.TagKeepaliveAnswer:  {lifecycle.StatusConfiguring, lifecycle.StatusDone, lifecycle.StatusNoConfig},
}

// Allowed reports whether a device in status st may send tag.
func Allowed(tag wire.Tag, st lifecycle.Status) bool {
	allowed, ok := phases[tag]
	if !ok {
		return false
	}
	if allowed == nil {
		return true
	}
	for _, s := range allowed {
		if s == st {
			return true
		}
	}
	return false
}
