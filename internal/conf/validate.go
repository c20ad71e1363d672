package conf

import (
	"regexp"
	"strconv"
)

var (
	gitRemoteRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	gitBranchRe = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)
)

var validDisplayModes = map[string]bool{"full": true, "common_name": true, "scientific_name": true}
var validServices = map[string]bool{"apprise": true, "webhook": true, "mqtt": true}
var validScopes = map[string]bool{"all": true, "new_ever": true, "new_today": true, "new_this_week": true}

// Validate checks the resolved settings for per-version-specific
// constraints, returning the list of offending field names (empty if
// everything passes). Load() surfaces this list to the caller on failure.
func Validate(s *Settings) []string {
	var offending []string

	if s.Location.SpeciesDisplayMode != "" && !validDisplayModes[s.Location.SpeciesDisplayMode] {
		offending = append(offending, "location.species_display_mode")
	}
	if s.Model.SpeciesConfidenceThresh < 0 || s.Model.SpeciesConfidenceThresh > 1 {
		offending = append(offending, "model.species_confidence_threshold")
	}
	if s.Model.SensitivitySetting <= 0 {
		offending = append(offending, "model.sensitivity_setting")
	}
	if s.Model.PrivacyThreshold < 0 || s.Model.PrivacyThreshold > 100 {
		offending = append(offending, "model.privacy_threshold")
	}
	if s.Audio.SampleRate <= 0 {
		offending = append(offending, "audio.sample_rate")
	}
	if s.Audio.Overlap < 0 || s.Audio.Overlap >= 3.0 {
		offending = append(offending, "audio.audio_overlap")
	}
	if s.Updates.GitRemote != "" && !gitRemoteRe.MatchString(s.Updates.GitRemote) {
		offending = append(offending, "updates.git_remote")
	}
	if s.Updates.GitBranch != "" && !gitBranchRe.MatchString(s.Updates.GitBranch) {
		offending = append(offending, "updates.git_branch")
	}
	if s.DynamicThreshold.Trigger < 0 || s.DynamicThreshold.Trigger > 1 {
		offending = append(offending, "dynamic_threshold.trigger")
	}
	if s.DynamicThreshold.Min < 0 || s.DynamicThreshold.Min > 1 {
		offending = append(offending, "dynamic_threshold.min")
	}
	for i, rule := range s.Notifications.Rules {
		if rule.Service != "" && !validServices[rule.Service] {
			offending = append(offending, ruleField(i, "service"))
		}
		if rule.Scope != "" && !validScopes[rule.Scope] {
			offending = append(offending, ruleField(i, "scope"))
		}
	}

	return offending
}

func ruleField(i int, field string) string {
	return "notifications.notification_rules[" + strconv.Itoa(i) + "]." + field
}
