package wifi

import "strings"

// apPreference pins association to one BSSID (filter) or prefers one
// (priority). At most one is set.
type apPreference struct {
	filter   string
	priority string
}

func sameMAC(a, b string) bool { return a != "" && strings.EqualFold(a, b) }

// pickRoamTarget returns the strongest same-SSID network whose RSSI beats
// current by at least improvement dBm and whose BSSID is not currentBSSID.
// With a filter only that BSSID qualifies; the priority BSSID needs half
// the improvement.
func pickRoamTarget(nets []Network, ssid, currentBSSID string, current, improvement int, pref apPreference) (Network, bool) {
	var best Network
	found := false
	for _, n := range nets {
		if n.SSID != ssid || strings.EqualFold(n.BSSID, currentBSSID) {
			continue
		}
		if pref.filter != "" && !sameMAC(n.BSSID, pref.filter) {
			continue
		}
		need := improvement
		if sameMAC(n.BSSID, pref.priority) {
			need = improvement / 2
		}
		if n.RSSI-current < need {
			continue
		}
		if !found || n.RSSI > best.RSSI {
			best, found = n, true
		}
	}
	return best, found
}

// pickConnectBSSID chooses a BSSID to pin at association time. Without a
// filter or priority it returns "" and lets the radio decide. A missing
// priority AP falls back to the strongest same-SSID network.
func pickConnectBSSID(nets []Network, ssid string, pref apPreference) string {
	best, bestRSSI := "", 0
	for _, n := range nets {
		if n.SSID != ssid {
			continue
		}
		if pref.filter != "" {
			if sameMAC(n.BSSID, pref.filter) && (best == "" || n.RSSI > bestRSSI) {
				best, bestRSSI = n.BSSID, n.RSSI
			}
			continue
		}
		if sameMAC(n.BSSID, pref.priority) {
			return n.BSSID
		}
		if best == "" || n.RSSI > bestRSSI {
			best, bestRSSI = n.BSSID, n.RSSI
		}
	}
	return best
}
