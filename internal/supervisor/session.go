package supervisor

import (
	"crypto/sha1"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// GenSession produces a session identifier of the form S20060102-150405-xxxx,
// the timestamp giving operators an ordered, human-readable directory name
// and the trailing salt guarding against two sessions started in the same
// second, per spec.md §4.10.
func GenSession(now time.Time) string {
	ts := now.Format("S20060102-150405")
	h := sha1.Sum([]byte(fmt.Sprintf("%s-%d", ts, rand.Int63())))
	return fmt.Sprintf("%s-%x", ts, h[:2])
}

// LocalIP returns the outbound interface's address, so the operator can be
// told what IP the phone app's UDP target should point at. It never
// actually sends traffic: connecting a UDP socket only resolves routing.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
