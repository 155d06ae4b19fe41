// Command enginehost is the operator CLI. It starts and stops the worker
// daemon, reports its status and runs controller sessions against it.
package main
