package main

import "errors"

// Serve errors
var (
	ErrLoadConfig       = errors.New("load configuration")
	ErrLocateVBoxManage = errors.New("locate VBoxManage")
	ErrOpenBackupStore  = errors.New("open backup store")
	ErrOpenJobStore     = errors.New("open job store")
	ErrCreateStateDir   = errors.New("create state directory")
	ErrOpenLogFile      = errors.New("open log file")
	ErrFrontend         = errors.New("MCP frontend")
)

// Doctor errors
var (
	ErrVBoxManageUnreachable = errors.New("VBoxManage did not respond")
)
