// Package machine simulates the RISC-style hardware the kernel runs on: physical memory, two
// software-loaded page tables (one for the kernel region R0, one for the current process's region
// R1), a TLB with selective-flush operations, a trap vector, and the privileged save/restore
// primitive the kernel uses to switch between saved register contexts.
//
// Everything in this package is the "external collaborator" described by the kernel
// specification -- the simulated machine, not the kernel itself. The kernel (package
// github.com/smoynes/yalnix/internal/kernel) is the only consumer.
package machine
