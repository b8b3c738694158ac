// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供 OpenAI 兼容 Provider 的通用请求/响应转换与错误映射，是
openaicompat.Provider 的公共基础层。三种 provider 类型
(local-openai-compatible、web-chat-bridge、hosted-openai-compatible)
都经由 openaicompat.Provider 构造，只是配置不同，因此这层共享逻辑只需要
写一次。

# 核心类型

  - OpenAICompat* 系列 — OpenAI 兼容 API 的请求/响应/工具调用结构体

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - ConvertMessagesToOpenAI / ConvertToolsToOpenAI — 统一消息与工具格式转换
  - ToLLMChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
  - ListModelsOpenAICompat — 通用模型列表获取
  - ReadErrorMessage / SafeCloseBody — HTTP 响应体的辅助读取与关闭

指数退避重试不在本包：providerfactory.wrapRetry 在注册表构建 provider 时
用 llm/retry.Retryer 包一层，基于 MapHTTPError 设置的 Retryable 标记决定
是否重试，而不是让每个 provider 自己实现退避逻辑。
*/
package providers
