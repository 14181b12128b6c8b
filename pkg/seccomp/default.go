package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// interpreterSyscalls is what a JVM-hosted interpreter needs to start, read
// one source file, write to stdout/stderr and exit. No sockets.
func interpreterSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		AllowSyscalls(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"open", "openat", "close", "close_range", "lseek",
			"stat", "fstat", "lstat", "newfstatat", "statx", "statfs", "fstatfs",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3",
			"fcntl", "ioctl", "flock",
			"poll", "ppoll", "select", "pselect6",
			"pipe", "pipe2",
			"readlink", "readlinkat",
			"getdents64",
			"unlink", "unlinkat", "mkdir", "mkdirat", "rename", "renameat",
			"ftruncate", "fallocate", "fsync", "fdatasync",
			"umask", "getcwd", "chdir", "fchdir",
		).
		AllowSyscalls(
			"brk", "mmap", "munmap", "mprotect", "mremap",
			"madvise", "mincore", "msync", "membarrier",
			"get_mempolicy", "set_mempolicy",
		).
		AllowSyscalls(
			"execve",
			"exit", "exit_group",
			"wait4", "waitid",
			"clone", "clone3", "vfork",
			"set_tid_address", "rseq",
			"set_robust_list", "get_robust_list",
		).
		AllowSyscalls(
			"futex", "futex_waitv",
			"gettid", "tgkill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigtimedwait",
			"rt_sigsuspend", "sigaltstack", "restart_syscall",
			"sched_getaffinity", "sched_yield", "sched_getparam", "sched_getscheduler",
			"getpriority", "setpriority",
		).
		AllowSyscalls(
			"clock_gettime", "clock_getres", "clock_nanosleep",
			"gettimeofday", "nanosleep", "times",
			"getrusage", "sysinfo", "uname",
		).
		AllowSyscalls(
			"getpid", "getppid",
			"getuid", "geteuid", "getgid", "getegid", "getgroups",
			"getrlimit", "prlimit64",
		).
		AllowSyscalls(
			"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
			"eventfd2",
			"getrandom", "arch_prctl", "prctl",
			"memfd_create",
		)
}

// privilegedSyscalls are never legitimate for a sandboxed interpreter.
func privilegedSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		KillSyscalls(
			"ptrace",
			"process_vm_readv", "process_vm_writev",
			"bpf", "perf_event_open", "userfaultfd",
			"kexec_load", "kexec_file_load",
			"finit_module", "init_module", "delete_module",
		).
		BlockSyscalls(
			"mount", "umount2", "pivot_root",
			"reboot", "swapon", "swapoff",
			"sethostname", "setdomainname",
			"setns", "unshare",
			"keyctl", "add_key", "request_key",
			"acct", "settimeofday", "adjtimex", "clock_adjtime",
			"personality", "ioperm", "iopl",
		)
}

// DefaultProfile returns the deny-by-default profile for interpreter containers.
// Network syscalls are absent, so socket(2) fails with EPERM.
func DefaultProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = interpreterSyscalls(b)
	b = privilegedSyscalls(b)
	return b.Build()
}
