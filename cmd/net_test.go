package main

import (
	"net"
	"testing"
)

func TestGuessIpAddress24(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{192, 168, 0, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
}

func TestGuessIpAddress16(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "15.42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{192, 168, 15, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
}

func TestGuessIpAddress0(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "10.100.15.42")
	if err != nil {
		t.Fatal(err)
	}
	expected := net.IP{10, 100, 15, 42}
	if !actual.Equal(expected) {
		t.Fatalf("expected %v, actual %v", expected, actual)
	}
}

func TestGuessIpAddress32(t *testing.T) {
	addr := net.IP{192, 168, 0, 1}
	actual, err := guessIpAddress(addr, "")
	if err != nil {
		t.Fatal(err)
	}
	if !actual.Equal(addr) {
		t.Fatalf("expected %v, actual %v", addr, actual)
	}
}

func TestGuessIpAddressTooLong(t *testing.T) {
	if _, err := guessIpAddress(net.IP{192, 168, 0, 1}, "1.2.3.4.5"); err == nil {
		t.Fatal("expected an error for five octets")
	}
}

func TestSubnetOfListener(t *testing.T) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: 12345,
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	ipnet, err := subnetOfListener(l)
	if err != nil {
		t.Fatalf("SubnetOfListener error: %v", err)
	}
	t.Logf("listener local addr: %v, subnet: %s", l.Addr(), ipnet.String())

	if !ipnet.Contains(net.ParseIP("127.0.0.1")) {
		t.Fatalf("expected subnet %s to contain 127.0.0.1", ipnet.String())
	}
}

func TestSplitHostPortDefault(t *testing.T) {
	host, port, err := splitHostPort("10.0.0.2", 8742)
	if err != nil {
		t.Fatal(err)
	}
	if host != "10.0.0.2" || port != "8742" {
		t.Fatalf("got %s %s", host, port)
	}
	host, port, err = splitHostPort("10.0.0.2:9000", 8742)
	if err != nil {
		t.Fatal(err)
	}
	if host != "10.0.0.2" || port != "9000" {
		t.Fatalf("got %s %s", host, port)
	}
}

func TestSessionURL(t *testing.T) {
	base := net.IP{192, 168, 1, 7}
	cases := []struct {
		typed string
		tls   bool
		want  string
	}{
		{"42", false, "http://192.168.1.42:8742"},
		{"0.42:9000", false, "http://192.168.0.42:9000"},
		{"localhost:8000", true, "https://localhost:8000"},
		{"http://example.org:1234/", false, "http://example.org:1234"},
	}
	for _, c := range cases {
		got, err := sessionURL(base, c.typed, 8742, c.tls)
		if err != nil {
			t.Fatalf("%s: %v", c.typed, err)
		}
		if got != c.want {
			t.Fatalf("%s: expected %s, got %s", c.typed, c.want, got)
		}
	}
}
