// Package testutil provides in-memory gRPC health servers for tests.
//
// A Network hosts any number of bufconn-backed servers, each reachable at a
// fake "127.0.0.1:<port>" address through the Network's dial option:
//
//	net := testutil.NewNetwork()
//	testutil.T(t).Setup(net)
//	port := net.Serve("microservice.orders.Orders", protocol.StaticTag("h1"))
//	conn, _ := grpc.NewClient(net.Target(port), net.DialOptions()...)
//
// Ports that were never served, or were stopped, refuse connections.
package testutil
