// Package main 为管理接口签发 Bearer token。
package main

import (
	"fmt"
	"os"

	"toad-architect-go/internal/config"
	"toad-architect-go/pkg/token"

	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	subject := flag.String("subject", "ops", "token 的 subject，会出现在管理操作日志中")
	hours := flag.Int("hours", 0, "有效期（小时），0 表示使用 jwt.admin_token_expire_hours")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret 未配置（可设置 TOAD_JWT_SECRET）")
		os.Exit(1)
	}

	expire := cfg.JWT.AdminTokenExpireHours
	if *hours > 0 {
		expire = *hours
	}
	tok, err := token.NewJWTManager(cfg.JWT.Secret, expire).GenerateToken(*subject, token.RoleAdmin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "生成 token 失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
