package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pubcontrol/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections plus safe
// structured attrs for logging. Keys and passwords are never included; only
// whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Endpoints, newCfg.Endpoints) {
		changed = append(changed, "endpoints")
		uris := make([]string, 0, len(newCfg.Endpoints))
		jwt, basic := 0, 0
		for _, e := range newCfg.Endpoints {
			uris = append(uris, strings.TrimSpace(e.URI))
			if e.Iss != "" && e.Key != "" {
				jwt++
			}
			if e.User != "" {
				basic++
			}
		}
		attrs = append(attrs,
			logx.Int("endpoints.count", len(newCfg.Endpoints)),
			logx.Any("endpoints.uris", uris),
			logx.Int("endpoints.jwt", jwt),
			logx.Int("endpoints.basic", basic),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	oA, nA := derefAsync(oldCfg.Async), derefAsync(newCfg.Async)
	if oldCfg.AsyncEnabled() != newCfg.AsyncEnabled() || oA.RatePerSec != nA.RatePerSec ||
		strings.TrimSpace(oA.Timeout) != strings.TrimSpace(nA.Timeout) {
		changed = append(changed, "async")
		attrs = append(attrs,
			logx.Bool("async.enabled", newCfg.AsyncEnabled()),
			logx.Int("async.rate_per_sec", nA.RatePerSec),
			logx.String("async.timeout", strings.TrimSpace(nA.Timeout)),
		)
	}

	var oJ, nJ JournalConfig
	if oldCfg.Journal != nil {
		oJ = *oldCfg.Journal
	}
	if newCfg.Journal != nil {
		nJ = *newCfg.Journal
	}
	if oJ != nJ {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", strings.TrimSpace(nJ.Driver)),
			logx.Bool("journal.path_set", strings.TrimSpace(nJ.Path) != ""),
		)
	}

	var oH, nH HeartbeatConfig
	if oldCfg.Heartbeat != nil {
		oH = *oldCfg.Heartbeat
	}
	if newCfg.Heartbeat != nil {
		nH = *newCfg.Heartbeat
	}
	if oH != nH {
		changed = append(changed, "heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.enabled", nH.Enabled),
			logx.String("heartbeat.schedule", nH.Schedule),
			logx.String("heartbeat.channel", nH.Channel),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs, logx.Bool("relay.chain_prev_id", newCfg.Relay.ChainPrevID))
	}

	var oAd, nAd AdminConfig
	if oldCfg.Admin != nil {
		oAd = *oldCfg.Admin
	}
	if newCfg.Admin != nil {
		nAd = *newCfg.Admin
	}
	if oAd != nAd {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", nAd.Enabled),
			logx.String("admin.addr", strings.TrimSpace(nAd.Addr)),
			logx.Bool("admin.pprof", nAd.Pprof),
			logx.Bool("admin.token_set", nAd.Token != ""),
		)
	}

	if strings.TrimSpace(oldCfg.LogChannel) != strings.TrimSpace(newCfg.LogChannel) {
		changed = append(changed, "log_channel")
		attrs = append(attrs, logx.String("log_channel", strings.TrimSpace(newCfg.LogChannel)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefAsync(a *AsyncConfig) AsyncConfig {
	if a == nil {
		return AsyncConfig{}
	}
	return *a
}
