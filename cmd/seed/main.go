package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/seed"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var days int
	var file string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机员工, 2: 插入随机班次, 3: 插入未指定日期的班次, 4: 从 CSV 导入员工)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.IntVar(&days, "days", 14, "随机班次的日期范围（从今天开始的天数）")
	flag.StringVar(&file, "file", "./internal/seed/data/employees.csv", "员工花名册 CSV 文件路径")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的员工数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				employee := utils.GenerateRandomEmployee(cfg.Seed.EmailDomain)
				if err := repo.CreateEmployee(employee); err != nil {
					slog.Error("无法插入员工", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			slog.Info("插入员工成功", slog.Int("count", n-cnt))
		}
	case 2:
		if n <= 0 || days <= 0 {
			slog.Error("请输入合法的班次数量和日期范围")
		} else {
			// 班次数量超过日期数量时会重复使用日期
			cnt := 0
			dates := utils.GenerateRandomDates(time.Now(), days, n)
			for i := 0; i < n; i++ {
				shift := utils.GenerateRandomShift(dates[i%len(dates)])
				if err := repo.CreateShift(shift); err != nil {
					slog.Error("无法插入班次", slog.String("error", err.Error()))
					continue
				}

				cnt++
			}

			slog.Info("插入班次成功", slog.Int("count", cnt))
		}
	case 3:
		if n <= 0 {
			slog.Error("请输入合法的班次数量")
		} else {
			cnt := 0
			for i := 0; i < n; i++ {
				if err := repo.CreateShift(utils.GenerateRandomShift("")); err != nil {
					slog.Error("无法插入班次", slog.String("error", err.Error()))
					continue
				}

				cnt++
			}

			slog.Info("插入班次成功", slog.Int("count", cnt))
		}
	case 4:
		if _, err := seed.SeedEmployees(repo, file); err != nil {
			slog.Error("导入员工失败", slog.String("error", err.Error()))
		}
	default:
		slog.Error("指定的操作非法")
	}
}
