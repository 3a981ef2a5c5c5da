// Package socketcanraw is a SocketCAN bus on a raw socket opened directly
// with golang.org/x/sys/unix. On top of the plain bus it can install kernel
// receive filters so that only the traffic of one node reaches the master.
// It registers itself as "socketcanraw" and is only available on linux.
package socketcanraw
