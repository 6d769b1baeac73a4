package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the metrics cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show metrics cache contents",
	RunE:  runCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the metrics cache file",
	RunE:  runCacheClear,
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	info := svc.cache.Info()
	if outputJSON {
		return printJSON(info)
	}
	if !info.Exists {
		fmt.Println("Cache is empty")
		return nil
	}
	fmt.Printf("Entries: %d (%d bytes)\n", info.Entries, info.SizeBytes)
	for _, key := range info.Keys {
		fmt.Printf("  %s\n", key)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync()

	if err := svc.cache.Clear(); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}
