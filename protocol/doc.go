// Package protocol maps catalog service names to the gRPC health contract
// each service exposes.
//
// A service named "user_account-svc" belongs to package "userAccount" and
// serves "<namespace>.userAccount.UserAccount/healthCheck", which answers
// with the instance's identity tag in field 1 (msServiceTag). Descriptors are
// found through a Registry: StaticRegistry for contracts known at compile
// time, ProtoRegistry for .proto files loaded at startup.
package protocol
