package tcp_test

import (
	"context"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/client"
	"github.com/YiuTerran/duplex/network/processor"
	"github.com/YiuTerran/duplex/network/server"
	"github.com/YiuTerran/duplex/network/tcp"
	"github.com/YiuTerran/duplex/network/udp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type hello struct {
	network.Reliable
	Text string
}

type tick struct {
	network.Unreliable
	N int
}

type mailbox struct {
	lock sync.Mutex
	msgs []network.Message
}

func (m *mailbox) MessageReceived(_ any, msg network.Message) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mailbox) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.msgs)
}

type serverBox struct{ mailbox }

func (b *serverBox) MessageReceived(_ *server.Connection, msg network.Message) {
	b.mailbox.MessageReceived(nil, msg)
}

type clientBox struct{ mailbox }

func (b *clientBox) MessageReceived(_ *client.Client, msg network.Message) {
	b.mailbox.MessageReceived(nil, msg)
}

var _ = Describe("Kernel", func() {
	var codec *processor.JsonProcessor

	BeforeEach(func() {
		codec = processor.NewJsonProcessor()
		codec.Register(&hello{})
		codec.Register(&tick{})
	})

	Describe("raw connection", func() {
		It("should deliver bytes and endpoint events", func() {
			k := tcp.NewKernel(localAddr)
			Expect(k.Initialize()).To(Succeed())
			defer func() { _ = k.Terminate() }()

			conn, err := tcp.Dial(k.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			Expect(conn.Write([]byte("ping"))).To(Succeed())

			var (
				ep  network.Endpoint
				got []byte
			)
			for len(got) < 4 {
				env, err := k.Read()
				Expect(err).ToNot(HaveOccurred())
				if env.IsEvent() {
					ev, ok := k.NextEvent()
					Expect(ok).To(BeTrue())
					Expect(ev.Type).To(Equal(network.EndpointAdded))
					ep = ev.Endpoint
					continue
				}
				got = append(got, env.Data...)
			}
			Expect(string(got)).To(Equal("ping"))
			Expect(ep).ToNot(BeNil())

			Expect(ep.Send([]byte("pong"))).To(Succeed())
			data, err := conn.Read()
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("pong"))

			Expect(conn.Close()).To(Succeed())
			Eventually(func() network.EndpointEventType {
				ev, _ := k.NextEvent()
				return ev.Type
			}).WithTimeout(time.Second).Should(Equal(network.EndpointRemoved))
			Expect(ep.IsConnected()).To(BeFalse())
		})

		It("should refuse connections over the limit", func() {
			k := tcp.NewKernel(localAddr, tcp.MaxConnNum(1))
			Expect(k.Initialize()).To(Succeed())
			defer func() { _ = k.Terminate() }()

			first, err := tcp.Dial(k.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			defer first.Close()
			Eventually(k.EndpointCount).Should(Equal(1))

			second, err := tcp.Dial(k.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			_, err = second.Read()
			Expect(err).To(HaveOccurred())
			Expect(k.EndpointCount()).To(Equal(1))
		})
	})

	Describe("with udp fast channel", func() {
		It("should register and exchange messages on both channels", func() {
			reliable := tcp.NewKernel(localAddr)
			fast := udp.NewKernel(localAddr)
			s, err := server.New(reliable, fast, server.WithCodec(codec))
			Expect(err).ToNot(HaveOccurred())
			Expect(s.Start()).To(Succeed())
			defer func() { _ = s.Close() }()
			sBox := &serverBox{}
			s.AddMessageListener(sBox)

			relConn, err := tcp.Dial(reliable.Addr().String())
			Expect(err).ToNot(HaveOccurred())
			fastConn, err := udp.Dial(fast.Addr().String(), 0)
			Expect(err).ToNot(HaveOccurred())
			c := client.New(relConn, fastConn, client.WithCodec(codec))
			cBox := &clientBox{}
			c.AddMessageListener(cBox)
			Expect(c.Start()).To(Succeed())
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(c.WaitForConnected(ctx)).To(Succeed())
			Expect(s.Connections()).To(HaveLen(1))

			Expect(c.Send(&hello{Text: "hi"})).To(Succeed())
			Expect(c.Send(&tick{N: 1})).To(Succeed())
			Eventually(sBox.Len).WithTimeout(time.Second).Should(Equal(2))

			Expect(s.Broadcast(&hello{Text: "all"}, nil)).To(Succeed())
			Expect(s.Broadcast(&tick{N: 2}, nil)).To(Succeed())
			Eventually(cBox.Len).WithTimeout(time.Second).Should(Equal(2))

			Expect(s.Connection(c.ID()).Close("done")).To(Succeed())
			Eventually(c.IsStarted).WithTimeout(time.Second).Should(BeFalse())
			Expect(c.DisconnectInfo().Reason).To(Equal("done"))
			Eventually(s.HasConnections).WithTimeout(time.Second).Should(BeFalse())
		})

		It("should not broadcast reliable data over udp", func() {
			k := udp.NewKernel(localAddr)
			Expect(k.Initialize()).To(Succeed())
			defer func() { _ = k.Terminate() }()
			Expect(k.Broadcast(nil, []byte{0}, true)).To(MatchError(network.ErrUnreliableNotSupported))
		})
	})
})
