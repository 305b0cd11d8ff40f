package raft_test

import (
    "context"
    "errors"
    "net"
    "net/http"
    "strconv"
    "time"

    . "github.com/logdevice/rebuilding-supervisor/raft"

    "github.com/coreos/etcd/raft/raftpb"
    "github.com/gorilla/mux"

    . "github.com/onsi/ginkgo"
    . "github.com/onsi/gomega"
)

var (
    PortIndex      = 1
    PortBase       = 9300
    SenderNodeID   = uint64(1)
    ReceiverNodeID = uint64(2)
)

type TestHTTPServer struct {
    port       int
    r          *mux.Router
    httpServer *http.Server
    listener   net.Listener
    done       chan int
}

func NewTestHTTPServer(port int) *TestHTTPServer {
    return &TestHTTPServer{
        port: port,
        done: make(chan int),
        r:    mux.NewRouter(),
    }
}

func (s *TestHTTPServer) Start() error {
    s.httpServer = &http.Server{
        Handler:      s.r,
        WriteTimeout: 15 * time.Second,
        ReadTimeout:  15 * time.Second,
    }

    listener, err := net.Listen("tcp", "localhost:"+strconv.Itoa(s.port))

    if err != nil {
        return err
    }

    s.listener = listener

    go func() {
        s.httpServer.Serve(s.listener)
        s.done <- 1
    }()

    return nil
}

func (s *TestHTTPServer) Stop() {
    s.listener.Close()
    <-s.done
}

func (s *TestHTTPServer) Router() *mux.Router {
    return s.r
}

var _ = Describe("Transport", func() {
    var ReceiverPort int
    var SenderPort int
    var receiverServer *TestHTTPServer
    var senderServer *TestHTTPServer
    var sender *TransportHub
    var receiver *TransportHub

    BeforeEach(func() {
        PortIndex += 1
        ReceiverPort = PortBase + 2*PortIndex
        SenderPort = PortBase + 2*PortIndex + 1

        receiverServer = NewTestHTTPServer(ReceiverPort)
        senderServer = NewTestHTTPServer(SenderPort)
        sender = NewTransportHub()
        receiver = NewTransportHub()

        receiver.OnReceive(func(ctx context.Context, msg raftpb.Message) error {
            return nil
        })

        sender.OnReceive(func(ctx context.Context, msg raftpb.Message) error {
            return nil
        })

        receiver.Attach(receiverServer.Router())
        sender.Attach(senderServer.Router())

        senderServer.Start()
        receiverServer.Start()
        <-time.After(time.Millisecond * 200)
    })

    AfterEach(func() {
        receiverServer.Stop()
        senderServer.Stop()
    })

    Describe("Sending a message", func() {
        Context("The recipient is not known by the sender", func() {
            It("Send should result in an error", func() {
                Expect(sender.Send(context.TODO(), raftpb.Message{
                    From: SenderNodeID,
                    To:   ReceiverNodeID,
                })).Should(Equal(EReceiverUnknown))
            })
        })

        Context("The recipient is known by the sender", func() {
            BeforeEach(func() {
                sender.AddPeer(PeerAddress{
                    NodeID: ReceiverNodeID,
                    Host:   "localhost",
                    Port:   ReceiverPort,
                })
            })

            Context("The sender is known by the recipient", func() {
                BeforeEach(func() {
                    receiver.AddPeer(PeerAddress{
                        NodeID: SenderNodeID,
                        Host:   "localhost",
                        Port:   SenderPort,
                    })
                })

                Specify("Send should return nil once the receiver has processed the message", func() {
                    receiver.OnReceive(func(ctx context.Context, msg raftpb.Message) error {
                        return nil
                    })

                    Expect(sender.Send(context.TODO(), raftpb.Message{
                        From: SenderNodeID,
                        To:   ReceiverNodeID,
                    })).Should(BeNil())
                })

                Specify("Send should return an error if the receiver's callback returns one", func() {
                    receiver.OnReceive(func(ctx context.Context, msg raftpb.Message) error {
                        return errors.New("Something bad happened")
                    })

                    Expect(sender.Send(context.TODO(), raftpb.Message{
                        From: SenderNodeID,
                        To:   ReceiverNodeID,
                    })).ShouldNot(BeNil())
                })
            })
        })
    })
})
