package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"qms/walkin-queue/internal/access"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"

	"gopkg.in/yaml.v3"
)

type lanePolicy struct {
	Prefix string `yaml:"prefix"`
}

type policyFile struct {
	Lanes                   map[string]lanePolicy `yaml:"lanes"`
	NumberPad               int                   `yaml:"number_pad"`
	WaitingLimit            int                   `yaml:"waiting_limit"`
	RecentCallsLimit        int                   `yaml:"recent_calls_limit"`
	Timezone                string                `yaml:"timezone"`
	DayCutover              string                `yaml:"day_cutover"`
	RestrictOperatorsToLane bool                  `yaml:"restrict_operators_to_lane"`
}

// Policies is the deployment policy split by the component that enforces it.
type Policies struct {
	Queue  queue.Policy
	Access access.Policy
}

// LoadPolicy reads the lane policy file. An empty path yields the defaults.
func LoadPolicy(path string) (Policies, error) {
	if path == "" {
		return Policies{Queue: queue.DefaultPolicy()}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (Policies, error) {
	var file policyFile
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return Policies{}, fmt.Errorf("parse policy: %w", err)
	}

	policy := queue.DefaultPolicy()
	seen := map[string]models.QueueType{}
	for name, lane := range file.Lanes {
		qt, ok := models.ParseQueueType(name)
		if !ok {
			return Policies{}, fmt.Errorf("policy: unknown lane %q", name)
		}
		prefix := strings.TrimSpace(lane.Prefix)
		if prefix == "" {
			continue
		}
		policy.Prefixes[qt] = prefix
	}
	for qt, prefix := range policy.Prefixes {
		if other, dup := seen[prefix]; dup {
			return Policies{}, fmt.Errorf("policy: lanes %s and %s share prefix %q", other, qt, prefix)
		}
		seen[prefix] = qt
	}

	if file.NumberPad < 0 || file.NumberPad > 9 {
		return Policies{}, fmt.Errorf("policy: number_pad %d out of range", file.NumberPad)
	}
	if file.NumberPad > 0 {
		policy.NumberPad = file.NumberPad
	}
	if file.WaitingLimit > 0 {
		policy.WaitingLimit = file.WaitingLimit
	}
	if file.RecentCallsLimit > 0 {
		policy.RecentLimit = file.RecentCallsLimit
	}
	if file.Timezone != "" {
		loc, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return Policies{}, fmt.Errorf("policy: timezone: %w", err)
		}
		policy.Location = loc
	}
	if file.DayCutover != "" {
		cutover, err := time.ParseDuration(file.DayCutover)
		if err != nil {
			return Policies{}, fmt.Errorf("policy: day_cutover: %w", err)
		}
		if cutover < 0 || cutover >= 24*time.Hour {
			return Policies{}, fmt.Errorf("policy: day_cutover %s out of range", cutover)
		}
		policy.DayCutover = cutover
	}

	return Policies{
		Queue:  policy,
		Access: access.Policy{RestrictOperatorsToLane: file.RestrictOperatorsToLane},
	}, nil
}
