// internal/di/container_test.go
package di

import "testing"

func TestContainerRegisterAndGet(t *testing.T) {
	container := GetContainer()
	container.Clear()
	defer container.Clear()

	type dummy struct{ value int }

	container.Register("dummy", &dummy{value: 7})

	got, ok := container.Get("dummy").(*dummy)
	if !ok || got.value != 7 {
		t.Fatalf("获取注册服务失败: %v", container.Get("dummy"))
	}

	if !container.Has("dummy") {
		t.Fatal("Has应报告已注册的服务")
	}
	if container.Has("missing") {
		t.Fatal("Has不应报告未注册的服务")
	}
	if container.Get("missing") != nil {
		t.Fatal("未注册的服务应返回nil")
	}
}

func TestContainerRemoveAndNames(t *testing.T) {
	container := GetContainer()
	container.Clear()
	defer container.Clear()

	container.Register("a", 1)
	container.Register("b", 2)

	names := container.GetNames()
	if len(names) != 2 {
		t.Fatalf("服务名称数量错误: %v", names)
	}

	container.Remove("a")
	if container.Has("a") {
		t.Fatal("移除后服务不应存在")
	}
	if !container.Has("b") {
		t.Fatal("移除不应影响其他服务")
	}
}

func TestContainerSingleton(t *testing.T) {
	if GetContainer() != GetContainer() {
		t.Fatal("GetContainer应返回同一个实例")
	}
}
