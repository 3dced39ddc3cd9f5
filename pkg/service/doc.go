// Package service provides high-level orchestration for scooked
// clients and store daemons.
//
// This package ties together the lower-level components into cohesive
// APIs for building complete deployments:
//
// # StoreService
//
// StoreService runs a store daemon. It handles:
//   - TCP listening and framed CBOR messaging
//   - Put/Clear/Get dispatch against the document table
//   - Subscription registration and change fan-out
//   - Snapshot persistence across restarts
//   - mDNS advertising
//
// Example usage:
//
//	config := service.DefaultStoreServiceConfig()
//	config.ListenAddress = ":8743"
//
//	svc, err := service.NewStoreService(config)
//	svc.Start(ctx)
//	defer svc.Stop()
//
// # ClientService
//
// ClientService runs the client side. It handles:
//   - Identity resolution from the device secret
//   - Store location via mDNS or a fixed address
//   - Session lifecycle (connect, countdown, expiry)
//   - Degrading to a local-only countdown when the store is
//     unreachable
//
// Example usage:
//
//	config := service.DefaultClientServiceConfig()
//
//	svc, err := service.NewClientService(config)
//	svc.OnTick(func(remaining int64) { ... })
//	svc.Start(ctx)
//	defer svc.Stop()
//
//	svc.Connect()
package service
