package transport

import (
	"net"
	"testing"
)

func TestFakeDeliverAndRecv(t *testing.T) {
	f := NewFake(&net.UDPAddr{Port: 5683})
	src := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 40000}
	f.Deliver([]byte{1, 2, 3}, src)

	buf := make([]byte, 16)
	n, got, multicast, err := f.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if multicast {
		t.Fatal("expected unicast delivery")
	}
	if n != 3 || got.Port != src.Port {
		t.Fatalf("unexpected recv: n=%d src=%v", n, got)
	}
}

func TestFakeSendRecordsDatagram(t *testing.T) {
	f := NewFake(&net.UDPAddr{Port: 5683})
	dst := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 40001}
	if err := f.Send([]byte{9}, dst); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.Sent) != 1 || f.Sent[0].Dst.Port != dst.Port {
		t.Fatalf("unexpected sent log: %+v", f.Sent)
	}
}

func TestFakeRecvUnblocksOnClose(t *testing.T) {
	f := NewFake(&net.UDPAddr{Port: 5683})
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, _, _, err := f.Recv(buf)
		done <- err
	}()
	f.Close()
	if err := <-done; err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
