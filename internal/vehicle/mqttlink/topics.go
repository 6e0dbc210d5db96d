package mqttlink

import "strings"

// topics builds the bridge topic names under a common prefix
type topics struct {
	prefix string
}

func newTopics(prefix string) topics {
	return topics{prefix: strings.Trim(prefix, "/")}
}

func (t topics) join(parts ...string) string {
	return t.prefix + "/" + strings.Join(parts, "/")
}

// paramSet is where a parameter change is requested, e.g. rem/param/set/kalman.initialX
func (t topics) paramSet(name string) string { return t.join("param", "set", name) }

// paramUpdates matches every parameter update, e.g. rem/param/kalman/initialX
func (t topics) paramUpdates() string { return t.join("param", "+", "+") }

// paramRefresh asks the bridge to republish every parameter of a group, e.g. rem/param/get/esp8266
func (t topics) paramRefresh(group string) string { return t.join("param", "get", group) }

func (t topics) setpoint() string        { return t.join("commander", "setpoint") }
func (t topics) stop() string            { return t.join("commander", "stop") }
func (t topics) kalmanLog() string       { return t.join("log", "kalman") }
func (t topics) kalmanLogConfig() string { return t.join("log", "kalman", "config") }
func (t topics) console() string         { return t.join("console") }
func (t topics) powerDown() string       { return t.join("power", "down") }

// parseParamUpdate extracts the group and the full parameter name from an
// update topic. Change and refresh requests published by the ground station
// itself are rejected.
func (t topics) parseParamUpdate(topic string) (group, name string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.join("param")+"/")
	if !found {
		return "", "", false
	}

	group, short, found := strings.Cut(rest, "/")
	if !found || group == "" || short == "" || group == "set" || group == "get" || strings.Contains(short, "/") {
		return "", "", false
	}

	return group, group + "." + short, true
}
