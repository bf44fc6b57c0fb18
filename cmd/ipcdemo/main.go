// Command ipcdemo reproduces the phone-company ping/pong scenario from
// original_source/generic/src/ipc/ipc.c's ipc_create_phonecompany /
// ipc_phonecompany_thread: one task connects to another through the naming
// service, sends a single call, and the callee answers with the same
// 0xbabaaaee/0xaaaaeeee payload the original toy server used, playing the
// role the teacher's samples/mount_hello plays for that library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	kernel "github.com/HelenOS/helenos-sub036"
)

const phoneCompanyService = "phonecompany"

// ServeOne answers exactly one call arriving on box with the
// ipc_phonecompany_thread reply payload, then returns.
func ServeOne(k *kernel.Kernel, callee *kernel.Task) error {
	id, _, err := kernel.WaitForCall(context.Background(), callee.Box, kernel.WaitOptions{})
	if err != nil {
		return fmt.Errorf("ipcdemo: server WaitForCall: %w", err)
	}

	reply := kernel.Payload{
		Method: 0xbabaaaee,
		Args:   [5]uint64{0xaaaaeeee, 0, 0, 0, 0},
	}

	return k.Answer(callee, id, reply)
}

func main() {
	flag.Parse()

	k := kernel.NewKernel(kernel.DefaultConfig())
	naming := kernel.NewNamingService(k)

	b := k.NewTask()
	naming.Register(phoneCompanyService, b.Box)

	a := k.NewTask()

	phone, err := naming.ConnectTo(a, phoneCompanyService)
	if err != nil {
		log.Fatalf("ConnectTo: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ServeOne(k, b) }()

	client := kernel.NewClient(k, a, phone)
	reply, err := client.CallSync(context.Background(), 1024, [5]uint64{42, 0, 0, 0, 0})
	if err != nil {
		log.Fatalf("CallSync: %v", err)
	}

	if err := <-errCh; err != nil {
		log.Fatalf("server: %v", err)
	}

	fmt.Printf("reply: method=%#x args=%v\n", reply.Method, reply.Args)
}
