package fusion

import "strings"

// advancedRules are the sophisticated, multi-stage attack detectors
// layered on top of the baseline rule set, grounded on
// test_advanced_rules.py's black-box behavior: the original
// advanced_rules.py module itself did not survive into the retrieval
// pack, only its test suite.
var advancedRules = []Rule{
	ruleAPTInitialAccessChain,
	ruleFilelessAttack,
	ruleLogTampering,
	ruleSecurityToolDisable,
	ruleCredentialDumpingChain,
	ruleSSHKeyTheftAndPivot,
	ruleInternalReconnaissance,
	ruleStagedExfiltration,
}

// EvaluateAdvancedRules runs every advanced rule and collects the
// non-nil incidents.
func EvaluateAdvancedRules(events []TelemetryEventView, deviceID string) []*Incident {
	var incidents []*Incident
	for _, rule := range advancedRules {
		if inc := rule(events, deviceID); inc != nil {
			incidents = append(incidents, inc)
		}
	}
	return incidents
}

var discoveryCommands = []string{"whoami", "id", "uname"}

const discoveryCommandThreshold = 3

// ruleAPTInitialAccessChain fires on a successful SSH login followed
// by at least discoveryCommandThreshold distinct discovery commands.
func ruleAPTInitialAccessChain(events []TelemetryEventView, deviceID string) *Incident {
	var login *TelemetryEventView
	for i, ev := range events {
		if ev.EventType == EventSecurity && ev.Security != nil &&
			ev.Security.Action == "SSH" && ev.Security.Outcome == "SUCCESS" {
			login = &events[i]
			break
		}
	}
	if login == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var discoveryEvents []TelemetryEventView
	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil || ev.Timestamp.Before(login.Timestamp) {
			continue
		}
		for _, cmd := range discoveryCommands {
			if strings.HasPrefix(strings.TrimSpace(ev.Process.Cmdline), cmd) {
				seen[cmd] = struct{}{}
				discoveryEvents = append(discoveryEvents, ev)
			}
		}
	}
	if len(seen) < discoveryCommandThreshold {
		return nil
	}

	inc := newIncident(deviceID, "apt_initial_access_chain", SeverityHigh,
		[]string{TacticInitialAccess, TacticDiscovery}, nil,
		"SSH login followed by host discovery commands")
	inc.AddEvent(login.EventID, login.Timestamp)
	for _, ev := range discoveryEvents {
		inc.AddEvent(ev.EventID, ev.Timestamp)
	}
	return inc
}

// ruleFilelessAttack fires on a download-and-execute or encoded-
// execution pattern in a process command line; escalates to CRITICAL
// when outbound network activity accompanies it.
func ruleFilelessAttack(events []TelemetryEventView, deviceID string) *Incident {
	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		cmd := ev.Process.Cmdline

		attackType := ""
		switch {
		case isDownloadAndExecute(cmd):
			attackType = "download_and_execute"
		case isEncodedExecution(cmd):
			attackType = "encoded_execution"
		default:
			continue
		}

		severity := SeverityHigh
		for _, flow := range events {
			if flow.EventType == EventFlow && flow.Flow != nil && flow.Flow.Direction == "OUTBOUND" {
				severity = SeverityCritical
				break
			}
		}

		inc := newIncident(deviceID, "fileless_attack", severity,
			[]string{TacticExecution, TacticDefenseEvasion}, nil,
			"fileless execution pattern detected: "+cmd)
		inc.Metadata["attack_type"] = attackType
		inc.AddEvent(ev.EventID, ev.Timestamp)
		return inc
	}
	return nil
}

func isDownloadAndExecute(cmd string) bool {
	hasDownload := strings.Contains(cmd, "curl") || strings.Contains(cmd, "wget")
	hasExecute := strings.Contains(cmd, "| bash") || strings.Contains(cmd, "| sh") ||
		strings.Contains(cmd, "|bash") || strings.Contains(cmd, "|sh")
	return hasDownload && hasExecute
}

func isEncodedExecution(cmd string) bool {
	hasDecode := strings.Contains(cmd, "base64 -d") || strings.Contains(cmd, "base64 --decode")
	hasExecute := strings.Contains(cmd, "| sh") || strings.Contains(cmd, "| bash") ||
		strings.Contains(cmd, "|sh") || strings.Contains(cmd, "|bash")
	return hasDecode && hasExecute
}

// ruleLogTampering fires on log-deletion or shell-history-clearing
// commands; escalates to CRITICAL when multiple distinct tampering
// techniques appear together.
func ruleLogTampering(events []TelemetryEventView, deviceID string) *Incident {
	techniques := make(map[string]struct{})
	var matches []TelemetryEventView

	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		cmd := ev.Process.Cmdline
		switch {
		case strings.Contains(cmd, "rm") && strings.Contains(cmd, ".log"):
			techniques["log_deletion"] = struct{}{}
			matches = append(matches, ev)
		case strings.Contains(cmd, "history -c") || strings.Contains(cmd, "history -cw"):
			techniques["history_clear"] = struct{}{}
			matches = append(matches, ev)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	severity := SeverityHigh
	if len(techniques) > 1 {
		severity = SeverityCritical
	}

	var types []string
	for t := range techniques {
		types = append(types, t)
	}

	inc := newIncident(deviceID, "log_tampering", severity,
		[]string{TacticDefenseEvasion}, []string{"T1070"},
		"evidence of log or shell-history tampering")
	inc.Metadata["tampering_types"] = strings.Join(types, ",")
	for _, ev := range matches {
		inc.AddEvent(ev.EventID, ev.Timestamp)
	}
	return inc
}

// ruleSecurityToolDisable fires when a command disables the host
// firewall or Gatekeeper.
func ruleSecurityToolDisable(events []TelemetryEventView, deviceID string) *Incident {
	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		cmd := ev.Process.Cmdline

		disableType := ""
		switch {
		case strings.Contains(cmd, "pfctl") && strings.Contains(cmd, "-d"):
			disableType = "firewall_disable"
		case strings.Contains(cmd, "spctl") && strings.Contains(cmd, "--master-disable"):
			disableType = "gatekeeper_disable"
		default:
			continue
		}

		inc := newIncident(deviceID, "security_tool_disable", SeverityCritical,
			[]string{TacticDefenseEvasion}, []string{"T1562"},
			"security control disabled: "+cmd)
		inc.Metadata["disable_type"] = disableType
		inc.AddEvent(ev.EventID, ev.Timestamp)
		return inc
	}
	return nil
}

const credentialDumpingThreshold = 2

// ruleCredentialDumpingChain fires when multiple keychain/credential
// access commands appear in the window.
func ruleCredentialDumpingChain(events []TelemetryEventView, deviceID string) *Incident {
	var matches []TelemetryEventView
	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		cmd := ev.Process.Cmdline
		if strings.Contains(cmd, "security find-generic-password") ||
			strings.Contains(cmd, "security find-internet-password") {
			matches = append(matches, ev)
		}
	}
	if len(matches) < credentialDumpingThreshold {
		return nil
	}

	inc := newIncident(deviceID, "credential_dumping_chain", SeverityCritical,
		[]string{TacticCredentialAccess}, []string{"T1555"},
		"repeated keychain credential access attempts")
	for _, ev := range matches {
		inc.AddEvent(ev.EventID, ev.Timestamp)
	}
	return inc
}

// ruleSSHKeyTheftAndPivot fires when an SSH private key file is read
// and an outbound connection to port 22 follows within the window.
func ruleSSHKeyTheftAndPivot(events []TelemetryEventView, deviceID string) *Incident {
	var keyRead *TelemetryEventView
	for i, ev := range events {
		if ev.EventType != EventAudit || ev.Audit == nil {
			continue
		}
		if ev.Audit.Action != "READ" {
			continue
		}
		path := ev.Attributes["file_path"]
		if strings.Contains(path, ".ssh/id_rsa") || strings.Contains(path, ".ssh/id_ed25519") {
			keyRead = &events[i]
			break
		}
	}
	if keyRead == nil {
		return nil
	}

	for _, ev := range events {
		if ev.EventType != EventFlow || ev.Flow == nil {
			continue
		}
		if ev.Flow.DstPort == 22 && ev.Flow.Direction == "OUTBOUND" && ev.Timestamp.After(keyRead.Timestamp) {
			inc := newIncident(deviceID, "ssh_key_theft_and_pivot", SeverityHigh,
				[]string{TacticLateralMovement}, []string{"T1021.004", "T1552.004"},
				"SSH private key read followed by outbound SSH connection")
			inc.AddEvent(keyRead.EventID, keyRead.Timestamp)
			inc.AddEvent(ev.EventID, ev.Timestamp)
			return inc
		}
	}
	return nil
}

// ruleInternalReconnaissance fires on nmap usage.
func ruleInternalReconnaissance(events []TelemetryEventView, deviceID string) *Incident {
	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		if strings.Contains(ev.Process.Cmdline, "nmap") {
			inc := newIncident(deviceID, "internal_reconnaissance", SeverityHigh,
				[]string{TacticDiscovery}, []string{"T1046"},
				"network scanning tool invoked: "+ev.Process.Cmdline)
			inc.AddEvent(ev.EventID, ev.Timestamp)
			return inc
		}
	}
	return nil
}

// ruleStagedExfiltration fires on an archive-creation command followed
// by an upload command in the window.
func ruleStagedExfiltration(events []TelemetryEventView, deviceID string) *Incident {
	var archiveEvent *TelemetryEventView
	for i, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil {
			continue
		}
		cmd := ev.Process.Cmdline
		if strings.Contains(cmd, "tar -c") || strings.Contains(cmd, "zip ") {
			archiveEvent = &events[i]
			break
		}
	}
	if archiveEvent == nil {
		return nil
	}

	for _, ev := range events {
		if ev.EventType != EventProcess || ev.Process == nil || !ev.Timestamp.After(archiveEvent.Timestamp) {
			continue
		}
		cmd := ev.Process.Cmdline
		isUpload := (strings.Contains(cmd, "curl") && strings.Contains(cmd, "-F")) ||
			strings.Contains(cmd, "scp ")
		if !isUpload {
			continue
		}
		inc := newIncident(deviceID, "staged_exfiltration", SeverityCritical,
			[]string{TacticCollection, TacticExfiltration}, []string{"T1560", "T1048"},
			"archive creation followed by outbound transfer")
		inc.AddEvent(archiveEvent.EventID, archiveEvent.Timestamp)
		inc.AddEvent(ev.EventID, ev.Timestamp)
		return inc
	}
	return nil
}
