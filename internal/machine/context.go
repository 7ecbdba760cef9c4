package machine

// context.go defines the two register-state buffers exchanged by the save/restore primitive:
// the user-mode context captured and restored at every trap, and the kernel-mode context saved
// and restored across a process context switch.

import "fmt"

// NumUserRegs is the size of the general-purpose register file visible to user-mode code.
// The kernel's trap layer reads a syscall's number from register 0 and its arguments from
// registers 1 and up; a syscall's return value is deposited in register 0.
const NumUserRegs = 8

// UserContext is the user-mode register state saved by the trap vector on entry and restored on
// exit. The kernel's syscall layer copies it into the running PCB on every trap and copies it back
// out when the trap returns, so a context switch in between preserves it correctly.
type UserContext struct {
	PC   Word
	SP   Word
	PSR  Word
	Regs [NumUserRegs]Word
}

func (u UserContext) String() string {
	return fmt.Sprintf("uctxt(pc=%s sp=%s r0=%s)", u.PC, u.SP, u.Regs[0])
}

// Arg returns register n. Syscall arguments occupy registers 1 and up; register 0 holds the
// syscall number.
func (u *UserContext) Arg(n int) Word {
	return u.Regs[n]
}

// SetReturn deposits a syscall's return value into register 0, per the calling convention.
func (u *UserContext) SetReturn(v Word) {
	u.Regs[0] = v
}

// KernelContext is the kernel-mode register state saved and restored by SaveRestore across a
// context switch. This simulator does not execute kernel machine code directly -- there is no
// instruction-level CPU here, only the kernel library calling Go functions -- so the struct
// carries no register fields. Seq exists so tests (and the scheduler) can assert that a context
// was actually captured before it is resumed from.
type KernelContext struct {
	Seq uint64
}

// SaveRestore is the hardware primitive that saves the caller's kernel register state into save
// and resumes execution from restore. The kernel's scheduler (kc_switch/kc_copy) is built
// entirely on top of this one primitive, exactly as it is on the real machine.
func SaveRestore(save, restore *KernelContext) {
	save.Seq++
	restore.Seq++
}
