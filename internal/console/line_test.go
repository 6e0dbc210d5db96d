package console

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		expected Line
	}{
		{"scan start", "AT+CWLAP", ScanStart{}},
		{"scan start with params", "AT+CWLAP=1,,3,100,300,0", ScanStart{Params: []string{"1", "", "3", "100", "300", "0"}}},
		{"scan start with empty params", "AT+CWLAP=,,,,,", ScanStart{Params: []string{"", "", "", "", "", ""}}},
		{"scan start too few params", "AT+CWLAP=1,2,3", Unrecognized{Text: "AT+CWLAP=1,2,3"}},
		{"scan start trailing text", "AT+CWLAPX", Unrecognized{Text: "AT+CWLAPX"}},
		{"scan start non digit param", "AT+CWLAP=a,,,,,", Unrecognized{Text: "AT+CWLAP=a,,,,,"}},

		{"position", "POS: x=1.50 y=2.00 z=0.30", PositionFix{X: 1.5, Y: 2, Z: 0.3}},
		{"position signed", "POS: x=-1.25 y=+0.50 z=-0.05", PositionFix{X: -1.25, Y: 0.5, Z: -0.05}},
		{"position without fraction", "POS: x=1 y=2.00 z=0.30", Unrecognized{Text: "POS: x=1 y=2.00 z=0.30"}},
		{"position truncated", "POS: x=1.50 y=2.00", Unrecognized{Text: "POS: x=1.50 y=2.00"}},
		{"position trailing space", "POS: x=1.50 y=2.00 z=0.30 ", Unrecognized{Text: "POS: x=1.50 y=2.00 z=0.30 "}},

		{"begin", "ESP8266: -- START READING --", BeginMarker{}},
		{"end", "ESP8266: -- STOP READING --", EndMarker{}},
		{"begin with suffix", "ESP8266: -- START READING --!", Unrecognized{Text: "ESP8266: -- START READING --!"}},

		{"access point", "AP: home-wifi, -45, 001122334455, 6", AccessPoint{SSID: "home-wifi", RSSI: -45, MAC: "001122334455", Channel: 6}},
		{"access point ssid with commas", "AP: a, b, -1, c, -60, aabbccddeeff, 11", AccessPoint{SSID: "a, b, -1, c", RSSI: -60, MAC: "aabbccddeeff", Channel: 11}},
		{"access point empty ssid", "AP: , -70, 0a0b0c0d0e0f, 1", AccessPoint{SSID: "", RSSI: -70, MAC: "0a0b0c0d0e0f", Channel: 1}},
		{"access point positive rssi", "AP: lab, 0, 1a2b, 3", AccessPoint{SSID: "lab", RSSI: 0, MAC: "1a2b", Channel: 3}},
		{"access point negative channel", "AP: lab, -50, 001122334455, -3", Unrecognized{Text: "AP: lab, -50, 001122334455, -3"}},
		{"access point bad mac", "AP: lab, -50, 00:11:22, 3", Unrecognized{Text: "AP: lab, -50, 00:11:22, 3"}},
		{"access point missing field", "AP: lab, -50, 3", Unrecognized{Text: "AP: lab, -50, 3"}},
		{"access point truncated", "AP: lab, -5", Unrecognized{Text: "AP: lab, -5"}},

		{"noise", "SYS: Crazyflie 2.1 is up and running!", Unrecognized{Text: "SYS: Crazyflie 2.1 is up and running!"}},
		{"empty", "", Unrecognized{Text: ""}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseLine(tc.line)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("ParseLine(%q): expected %#v, got %#v", tc.line, tc.expected, got)
			}
		})
	}
}
